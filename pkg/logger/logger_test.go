package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareScopesLoggerToRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	r := gin.New()
	r.Use(Middleware(base))
	r.POST("/calls/:call_id/hold", func(c *gin.Context) {
		From(c.Request.Context()).Info("inside")
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/calls/c1/hold", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "rid-1", w.Header().Get("X-Request-Id"))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var inside, summary map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &summary))
	assert.Equal(t, "rid-1", inside["request_id"])
	assert.Equal(t, "c1", inside["call_id"])
	assert.Equal(t, "/calls/:call_id/hold", summary["path"])
	assert.EqualValues(t, http.StatusNoContent, summary["status"])
}

func TestFromFallsBackToDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), From(context.Background()))
}

func TestNewWritesRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcenter.log")
	l := New("local", Options{File: path})
	l.Debug("to file", "k", "v")
	require.NoError(t, ShutdownFlush(context.Background(), 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
}

func TestMiddlewareQuietPathsAndRequestIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(slog.New(slog.NewJSONHandler(&buf, nil)), "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String(), "probe summary should be below info")
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-Id", "bad id\nwith newline")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.NotEqual(t, "bad id\nwith newline", w.Header().Get("X-Request-Id"))

	var summary map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &summary))
	assert.Equal(t, "WARN", summary["level"])
	assert.Equal(t, w.Header().Get("X-Request-Id"), summary["request_id"])
}
