package logging

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortID(t *testing.T) {
	assert.Equal(t, "12345678", ShortID("1234567890abcdef"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "", ShortID(""))
}

func TestWithComponent(t *testing.T) {
	l := WithComponent("engine")
	assert.NotEqual(t, zerolog.Disabled, l.GetLevel())
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := middleware.RequestID(Middleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session/abc", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	var entry map[string]any
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["message"])
	assert.Equal(t, "/api/session/abc", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, len("short and stout"), entry["bytes"])
	assert.NotEmpty(t, entry[FieldRequestID])
}
