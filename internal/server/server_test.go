package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sendRequest struct {
	Text string `json:"text" validate:"required,maxrunes=5"`
}

func TestValidator_MaxRunes(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.Validate(&sendRequest{Text: "h\u00e9llo"}))
	// "e" followed by a combining acute accent is one character once composed.
	assert.NoError(t, v.Validate(&sendRequest{Text: "he\u0301llo"}))
	assert.Error(t, v.Validate(&sendRequest{Text: "hello!"}))
	assert.Error(t, v.Validate(&sendRequest{}))
}

func TestErrorHandler(t *testing.T) {
	s := New("test", Options{})
	s.E.POST("/validate", func(c echo.Context) error {
		var req sendRequest
		if err := c.Bind(&req); err != nil {
			return err
		}
		return c.Validate(&req)
	})
	s.E.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"validation error", http.MethodPost, "/validate", `{"text":""}`, http.StatusBadRequest, "invalid_request"},
		{"malformed body", http.MethodPost, "/validate", `{`, http.StatusBadRequest, "invalid_request"},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, "not_found"},
		{"internal error", http.MethodGet, "/boom", "", http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			s.E.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestServer_CORS(t *testing.T) {
	s := New("test", Options{AllowedOrigins: []string{"https://chat.example.com"}})
	s.E.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(echo.HeaderOrigin, "https://chat.example.com")
	rec := httptest.NewRecorder()
	s.E.ServeHTTP(rec, req)

	assert.Equal(t, "https://chat.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServer_StartStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := New("test", Options{})
	s.E.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "OK") })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
