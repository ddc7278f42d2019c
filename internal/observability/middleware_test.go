package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func loggedRequest(t *testing.T, path string, status int) string {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/servos/:id/start", func(c *gin.Context) { c.Status(status) })

	method := http.MethodGet
	if strings.Contains(path, "/start") {
		method = http.MethodPost
	}
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return buf.String()
}

func TestRequestLoggerDemotesPolledPaths(t *testing.T) {
	out := loggedRequest(t, "/api/status", http.StatusOK)
	if !strings.Contains(out, `"level":"debug"`) {
		t.Fatalf("expected debug level for polled path, got %s", out)
	}

	out = loggedRequest(t, "/health", http.StatusOK)
	if !strings.Contains(out, `"level":"debug"`) {
		t.Fatalf("expected debug level for health probe, got %s", out)
	}
}

func TestRequestLoggerLevelsByStatus(t *testing.T) {
	out := loggedRequest(t, "/api/servos/base/start", http.StatusOK)
	if !strings.Contains(out, `"level":"info"`) {
		t.Fatalf("expected info level for command path, got %s", out)
	}
	if !strings.Contains(out, `"path":"/api/servos/:id/start"`) {
		t.Fatalf("expected templated route path, got %s", out)
	}

	out = loggedRequest(t, "/api/servos/base/start", http.StatusConflict)
	if !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected warn level for 409, got %s", out)
	}

	out = loggedRequest(t, "/api/servos/base/start", http.StatusInternalServerError)
	if !strings.Contains(out, `"level":"error"`) {
		t.Fatalf("expected error level for 500, got %s", out)
	}
}
