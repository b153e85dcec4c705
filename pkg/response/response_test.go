package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quickpoll/backend/internal/apperr"
)

func TestErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", apperr.Invalid("options", "please provide at least 2 options"), http.StatusBadRequest},
		{"authentication", apperr.ErrNotAuthenticated, http.StatusUnauthorized},
		{"busy", fmt.Errorf("cast vote: %w", apperr.ErrBusy), http.StatusConflict},
		{"not found", apperr.ErrNotFound, http.StatusNotFound},
		{"conflict", &apperr.PersistenceError{Op: "insert vote", Err: errors.New("dup"), Conflict: true}, http.StatusConflict},
		{"bad reference", &apperr.PersistenceError{Op: "insert vote", Err: errors.New("fk"), BadReference: true}, http.StatusBadRequest},
		{"other", errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/polls", nil)

			Error(c, zap.NewNop(), tt.err, "failed")

			assert.Equal(t, tt.status, w.Code)
			var body Body
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.NotEmpty(t, body.Error)
		})
	}
}
