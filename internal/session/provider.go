package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
)

// Issuer mints and parses session tokens.
type Issuer interface {
	Issue(userID uuid.UUID, email string) (token string, s *Session, err error)
	Parse(token string) (*Session, error)
}

// Revocations records signed-out token ids until they would have expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// SignOutNotice announces a sign-out to other server instances.
type SignOutNotice struct {
	Origin  string    `json:"origin"`
	TokenID string    `json:"token_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// Broadcaster carries sign-outs between instances. RedisRevocations implements it;
// a Revocations store that also implements it is picked up by NewProvider.
type Broadcaster interface {
	PublishSignOut(ctx context.Context, n SignOutNotice) error
	WatchSignOuts(ctx context.Context, fn func(SignOutNotice)) error
}

// ChangeKind says whether a session started or ended.
type ChangeKind int

const (
	SignedIn ChangeKind = iota
	SignedOut
)

// Change is delivered to listeners registered with OnChange.
type Change struct {
	Kind    ChangeKind
	Session Session
}

// Provider issues, validates and revokes sessions and notifies listeners of changes.
type Provider struct {
	issuer    Issuer
	revoked   Revocations
	broadcast Broadcaster
	origin    string
	logger    *zap.Logger
	mu        sync.RWMutex
	listeners map[int]func(Change)
	nextID    int
}

// NewProvider creates a session provider.
func NewProvider(issuer Issuer, revoked Revocations, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		issuer:    issuer,
		revoked:   revoked,
		origin:    uuid.NewString(),
		logger:    logger,
		listeners: make(map[int]func(Change)),
	}
	if b, ok := revoked.(Broadcaster); ok {
		p.broadcast = b
	}
	return p
}

// SignIn issues a token for the user and announces the new session.
func (p *Provider) SignIn(userID uuid.UUID, email string) (string, *Session, error) {
	token, s, err := p.issuer.Issue(userID, email)
	if err != nil {
		return "", nil, err
	}
	p.notify(Change{Kind: SignedIn, Session: *s})
	return token, s, nil
}

// Authenticate resolves a bearer token into a live session.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, apperr.ErrNotAuthenticated
	}
	s, err := p.issuer.Parse(token)
	if err != nil {
		return nil, &apperr.AuthenticationError{Reason: "invalid or expired token"}
	}
	if p.revoked != nil {
		revoked, err := p.revoked.IsRevoked(ctx, s.TokenID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, &apperr.AuthenticationError{Reason: "session signed out"}
		}
	}
	return s, nil
}

// SignOut revokes the session's token and announces the sign-out.
func (p *Provider) SignOut(ctx context.Context, s *Session) error {
	if s == nil {
		return apperr.ErrNotAuthenticated
	}
	if p.revoked != nil {
		ttl := time.Until(s.ExpiresAt)
		if ttl > 0 {
			if err := p.revoked.Revoke(ctx, s.TokenID, ttl); err != nil {
				return err
			}
		}
	}
	p.notify(Change{Kind: SignedOut, Session: *s})
	if p.broadcast != nil {
		n := SignOutNotice{Origin: p.origin, TokenID: s.TokenID, UserID: s.UserID}
		if err := p.broadcast.PublishSignOut(ctx, n); err != nil {
			// The token is already revoked; remote connections close on their next check or at expiry.
			p.logger.Warn("broadcast sign-out", zap.Error(err))
		}
	}
	p.logger.Info("session signed out", zap.String("user_id", s.UserID.String()))
	return nil
}

// WatchRemote delivers sign-outs made on other instances to OnChange listeners
// until ctx is done. It returns nil at once when no Broadcaster is configured.
func (p *Provider) WatchRemote(ctx context.Context) error {
	if p.broadcast == nil {
		return nil
	}
	return p.broadcast.WatchSignOuts(ctx, func(n SignOutNotice) {
		if n.Origin == p.origin {
			return
		}
		p.notify(Change{Kind: SignedOut, Session: Session{UserID: n.UserID, TokenID: n.TokenID}})
	})
}

// OnChange registers fn for every sign-in and sign-out. The returned func unregisters it.
// fn runs on the caller's goroutine and must not block.
func (p *Provider) OnChange(fn func(Change)) (cancel func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) notify(c Change) {
	p.mu.RLock()
	fns := make([]func(Change), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}
