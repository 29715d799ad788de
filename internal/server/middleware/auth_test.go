package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/server/handlers"
	"github.com/iudanet/docsync/internal/server/jwt"
)

// setupTestLogger creates a logger for testing
func setupTestLogger() *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelError,
	}
	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler)
}

// testHandler is a simple handler that checks context values
func testHandler(t *testing.T, expectedUsername string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username, ok := handlers.GetUsername(r.Context())
		require.True(t, ok, "username should be in context")
		assert.Equal(t, expectedUsername, username)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

func TestAuthMiddleware_Success(t *testing.T) {
	service := jwt.NewService("test-secret-key", 15*time.Minute)

	token, _, err := service.Issue("alice")
	require.NoError(t, err)

	wrappedHandler := AuthMiddleware(setupTestLogger(), service)(testHandler(t, "alice"))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	wrappedHandler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	service := jwt.NewService("test-secret-key", 15*time.Minute)

	foreignToken, _, err := jwt.NewService("other-secret", 15*time.Minute).Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantBody string
	}{
		{name: "missing header", header: "", wantBody: "Unauthorized: missing token\n"},
		{name: "no bearer prefix", header: "token", wantBody: "Unauthorized: invalid token format\n"},
		{name: "basic scheme", header: "Basic dXNlcjpwYXNz", wantBody: "Unauthorized: invalid token format\n"},
		{name: "garbage token", header: "Bearer not-a-jwt", wantBody: "Unauthorized: invalid token\n"},
		{name: "wrong secret", header: "Bearer " + foreignToken, wantBody: "Unauthorized: invalid token\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
			wrappedHandler := AuthMiddleware(setupTestLogger(), service)(next)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}
