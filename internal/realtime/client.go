package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
	"github.com/quickpoll/backend/internal/polls"
	"github.com/quickpoll/backend/internal/session"
	"github.com/quickpoll/backend/internal/tally"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Sessions authenticates connection tokens and reports sign-outs.
type Sessions interface {
	Authenticate(ctx context.Context, token string) (*session.Session, error)
	OnChange(fn func(session.Change)) (cancel func())
}

// Results reads poll state for a viewer. *polls.Service implements it.
type Results interface {
	Result(ctx context.Context, pollID, viewer uuid.UUID) (*tally.PollResult, error)
	List(ctx context.Context, f polls.ListFilter, viewer uuid.UUID) ([]tally.PollResult, error)
}

// Handler upgrades /ws requests into live views.
type Handler struct {
	sessions Sessions
	actions  Actions
	feed     Feed
	results  Results
	logger   *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewHandler creates a WebSocket handler.
func NewHandler(sessions Sessions, actions Actions, feed Feed, results Results, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		actions:  actions,
		feed:     feed,
		results:  results,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Client is a single WebSocket connection and its view.
type Client struct {
	ID      string
	PollID  uuid.UUID
	Session *session.Session
	conn    *websocket.Conn
	send    chan WSMessage
	view    *View
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *zap.Logger
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWs handles GET /ws?token=<jwt>[&poll_id=<uuid>].
func (h *Handler) ServeWs(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	s, err := h.sessions.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	var pollID uuid.UUID
	if v := c.Query("poll_id"); v != "" {
		if pollID, err = uuid.Parse(v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll_id"})
			return
		}
		if _, err := h.results.Result(c.Request.Context(), pollID, s.UserID); err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
				return
			}
			h.logger.Error("load poll for live view", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load poll"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(session.WithContext(context.Background(), s))
	client := &Client{
		ID:      uuid.New().String(),
		PollID:  pollID,
		Session: s,
		conn:    conn,
		send:    make(chan WSMessage, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		logger:  h.logger.With(zap.String("user_id", s.UserID.String())),
	}
	client.view = NewView(pollID, s.UserID, h.actions, h.feed, h.fetchFunc(pollID, s.UserID), client.queue, client.logger)

	stopListening := h.sessions.OnChange(func(ch session.Change) {
		if ch.Kind == session.SignedOut && ch.Session.TokenID == s.TokenID {
			client.signOut()
		}
	})
	expiry := time.AfterFunc(time.Until(s.ExpiresAt), client.signOut)

	h.register(client)
	defer func() {
		expiry.Stop()
		stopListening()
		h.unregister(client)
	}()

	go client.view.Run(ctx)
	go client.writePump()
	client.readPump()
}

func (h *Handler) fetchFunc(pollID, viewer uuid.UUID) FetchFunc {
	if pollID == uuid.Nil {
		return func(ctx context.Context) (interface{}, error) {
			return h.results.List(ctx, polls.ListFilter{}, viewer)
		}
	}
	return func(ctx context.Context) (interface{}, error) {
		return h.results.Result(ctx, pollID, viewer)
	}
}

func (h *Handler) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	n := len(h.clients)
	h.mu.Unlock()
	c.logger.Debug("live view opened", zap.String("client_id", c.ID), zap.String("poll_id", c.PollID.String()), zap.Int("connections", n))
}

func (h *Handler) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	c.logger.Debug("live view closed", zap.String("client_id", c.ID))
}

// queue implements SendFunc.
func (c *Client) queue(event string, payload interface{}) {
	c.enqueue(event, payload)
}

// enqueue marshals payload and hands it to the write pump, dropping it when the buffer is full.
// It reports whether the message was queued.
func (c *Client) enqueue(event string, payload interface{}) bool {
	msg := WSMessage{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error("marshal ws message", zap.Error(err), zap.String("event", event))
			return false
		}
		msg.Data = data
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("ws send buffer full, dropping message", zap.String("event", event))
		return false
	}
}

// signOut tells the client its session ended. The write pump closes the
// connection after sending it; when the buffer is full the connection is closed at once.
func (c *Client) signOut() {
	if !c.enqueue(EventSignedOut, nil) {
		c.cancel()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.cancel()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		switch msg.Event {
		case EventVote, EventLike:
			var req ActionRequest
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.queue(EventError, map[string]string{"error": "invalid " + msg.Event + " payload"})
				continue
			}
			submit := c.view.Like
			if msg.Event == EventVote {
				submit = c.view.Vote
			}
			if !submit(req) {
				return
			}
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
			if msg.Event == EventSignedOut {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "signed out"))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
