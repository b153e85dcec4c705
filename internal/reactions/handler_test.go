package reactions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickpoll/backend/internal/session"
)

func newTestRouter(r *Reconciler, s *session.Session) *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(func(c *gin.Context) {
		if s != nil {
			c.Request = c.Request.WithContext(session.WithContext(c.Request.Context(), s))
		}
		c.Next()
	})
	h := NewHandler(r, nil)
	e.POST("/polls/:id/vote", h.Vote)
	e.POST("/polls/:id/like", h.Like)
	return e
}

func TestHandlerVote(t *testing.T) {
	store := newMemStore()
	pollID, opts := store.addPoll(2)
	s := &session.Session{UserID: uuid.New()}
	e := newTestRouter(NewReconciler(store, nil, nil), s)

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		e.ServeHTTP(w, req)
		return w
	}

	w := post("/polls/"+pollID.String()+"/vote", `{"option_id":"`+opts[0].String()+`"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data VoteResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, VoteCast, body.Data.Outcome)

	assert.Equal(t, http.StatusBadRequest, post("/polls/"+pollID.String()+"/vote", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/polls/bad/vote", `{"option_id":"`+opts[0].String()+`"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post("/polls/"+pollID.String()+"/vote", `{"option_id":"`+uuid.NewString()+`"}`).Code)
}

func TestHandlerLike(t *testing.T) {
	store := newMemStore()
	pollID, _ := store.addPoll(2)

	anon := newTestRouter(NewReconciler(store, nil, nil), nil)
	w := httptest.NewRecorder()
	anon.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/polls/"+pollID.String()+"/like", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	e := newTestRouter(NewReconciler(store, nil, nil), &session.Session{UserID: uuid.New()})
	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/polls/"+pollID.String()+"/like", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data LikeResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.Liked)
	assert.Equal(t, 1, store.likeCount(pollID))
}
