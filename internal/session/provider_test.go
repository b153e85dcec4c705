package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickpoll/backend/internal/apperr"
)

type fakeIssuer struct {
	sessions map[string]*Session
}

func newFakeIssuer() *fakeIssuer { return &fakeIssuer{sessions: make(map[string]*Session)} }

func (f *fakeIssuer) Issue(userID uuid.UUID, email string) (string, *Session, error) {
	s := &Session{UserID: userID, Email: email, TokenID: uuid.NewString(), ExpiresAt: time.Now().Add(time.Hour)}
	token := "tok-" + s.TokenID
	f.sessions[token] = s
	return token, s, nil
}

func (f *fakeIssuer) Parse(token string) (*Session, error) {
	s, ok := f.sessions[token]
	if !ok {
		return nil, errors.New("bad token")
	}
	return s, nil
}

type memRevocations struct {
	mu      sync.Mutex
	revoked map[string]bool
}

func (m *memRevocations) Revoke(_ context.Context, id string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[id] = true
	return nil
}

func (m *memRevocations) IsRevoked(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[id], nil
}

func TestProviderSignInAuthenticateSignOut(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(newFakeIssuer(), &memRevocations{revoked: map[string]bool{}}, nil)

	var changes []Change
	cancel := p.OnChange(func(c Change) { changes = append(changes, c) })
	defer cancel()

	userID := uuid.New()
	token, s, err := p.SignIn(userID, "ada@example.com")
	require.NoError(t, err)

	got, err := p.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)

	require.NoError(t, p.SignOut(ctx, s))

	_, err = p.Authenticate(ctx, token)
	assert.True(t, apperr.IsAuthentication(err))

	require.Len(t, changes, 2)
	assert.Equal(t, SignedIn, changes[0].Kind)
	assert.Equal(t, SignedOut, changes[1].Kind)
	assert.Equal(t, userID, changes[1].Session.UserID)
}

func TestProviderRejectsUnknownToken(t *testing.T) {
	p := NewProvider(newFakeIssuer(), nil, nil)

	_, err := p.Authenticate(context.Background(), "nope")
	assert.True(t, apperr.IsAuthentication(err))

	_, err = p.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)
}

func TestOnChangeCancel(t *testing.T) {
	p := NewProvider(newFakeIssuer(), nil, nil)
	calls := 0
	cancel := p.OnChange(func(Change) { calls++ })
	cancel()

	_, _, err := p.SignIn(uuid.New(), "x@example.com")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRequire(t *testing.T) {
	_, err := Require(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)

	s := &Session{UserID: uuid.New()}
	got, err := Require(WithContext(context.Background(), s))
	require.NoError(t, err)
	assert.Same(t, s, got)
}

// memBus is a revocation store shared by several providers that also relays sign-outs.
type memBus struct {
	memRevocations
	watchers []func(SignOutNotice)
}

func newMemBus() *memBus {
	return &memBus{memRevocations: memRevocations{revoked: map[string]bool{}}}
}

func (b *memBus) PublishSignOut(_ context.Context, n SignOutNotice) error {
	b.mu.Lock()
	fns := append([]func(SignOutNotice){}, b.watchers...)
	b.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
	return nil
}

func (b *memBus) WatchSignOuts(ctx context.Context, fn func(SignOutNotice)) error {
	b.mu.Lock()
	b.watchers = append(b.watchers, fn)
	b.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (b *memBus) watching() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

func TestSignOutReachesOtherInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemBus()
	issuer := newFakeIssuer()
	local := NewProvider(issuer, bus, nil)
	remote := NewProvider(issuer, bus, nil)
	go func() { _ = local.WatchRemote(ctx) }()
	go func() { _ = remote.WatchRemote(ctx) }()
	require.Eventually(t, func() bool { return bus.watching() == 2 }, time.Second, 5*time.Millisecond)

	var mu sync.Mutex
	var localChanges, remoteChanges []Change
	defer local.OnChange(func(c Change) { mu.Lock(); localChanges = append(localChanges, c); mu.Unlock() })()
	defer remote.OnChange(func(c Change) { mu.Lock(); remoteChanges = append(remoteChanges, c); mu.Unlock() })()

	token, s, err := local.SignIn(uuid.New(), "ada@example.com")
	require.NoError(t, err)
	require.NoError(t, local.SignOut(ctx, s))

	_, err = remote.Authenticate(ctx, token)
	assert.True(t, apperr.IsAuthentication(err))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, remoteChanges, 1)
	assert.Equal(t, SignedOut, remoteChanges[0].Kind)
	assert.Equal(t, s.TokenID, remoteChanges[0].Session.TokenID)
	assert.Equal(t, s.UserID, remoteChanges[0].Session.UserID)
	// sign-in plus one sign-out; the instance's own broadcast is not delivered twice
	assert.Len(t, localChanges, 2)
}

func TestWatchRemoteWithoutBroadcaster(t *testing.T) {
	p := NewProvider(newFakeIssuer(), &memRevocations{revoked: map[string]bool{}}, nil)
	assert.NoError(t, p.WatchRemote(context.Background()))
}
