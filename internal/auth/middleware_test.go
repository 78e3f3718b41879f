package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"position_trader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen = RequestID(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, method, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/v1/positions", nil)
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_NoKeysConfigured(t *testing.T) {
	v := NewAPIKeyValidator(nil, 0, logging.NewNopLogger())
	assert.False(t, v.Enabled())

	var id string
	rec := serve(v.Middleware(okHandler(&id)), http.MethodGet, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "unknown", id)
	assert.Equal(t, id, rec.Header().Get(HeaderRequestID))
}

func TestMiddleware_Authentication(t *testing.T) {
	v := NewAPIKeyValidator([]string{"secret"}, 0, logging.NewNopLogger())
	h := v.Middleware(okHandler(nil))

	tests := []struct {
		name string
		key  string
		code int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"invalid key", "wrong", http.StatusUnauthorized},
		{"valid key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodPost, tt.key)
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestMiddleware_PreflightPasses(t *testing.T) {
	v := NewAPIKeyValidator([]string{"secret"}, 0, logging.NewNopLogger())
	rec := serve(v.Middleware(okHandler(nil)), http.MethodOptions, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_RateLimit(t *testing.T) {
	v := NewAPIKeyValidator([]string{"secret"}, 2, logging.NewNopLogger())
	h := v.Middleware(okHandler(nil))

	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "secret").Code)
	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "secret").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "secret").Code)
}

func TestAPIKeyValidator_Rotation(t *testing.T) {
	v := NewAPIKeyValidator([]string{"old"}, 0, logging.NewNopLogger())

	v.AddAPIKey("new")
	assert.True(t, v.ValidateAPIKey("new"))

	v.RemoveAPIKey("old")
	assert.False(t, v.ValidateAPIKey("old"))
	assert.True(t, v.Enabled())
}

func TestRequestID_Unknown(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "unknown", RequestID(req.Context()))
}
