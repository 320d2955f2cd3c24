package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithWriter_LevelOverride(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, "production", "warn")
	l.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
	l.Warn("kept")
	if !bytes.Contains(buf.Bytes(), []byte(`"msg":"kept"`)) {
		t.Fatalf("expected warn line, got %s", buf.String())
	}
}

func TestForCampaign_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := ForCampaign(NewWithWriter(&buf, "local", ""), "acc-1", "camp-1")
	l.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["account_id"] != "acc-1" || line["campaign_id"] != "camp-1" {
		t.Fatalf("unexpected attrs: %v", line)
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
}

func TestMiddleware_PropagatesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var buf bytes.Buffer
	r := gin.New()
	r.Use(Middleware(NewWithWriter(&buf, "local", "")))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) != FromGin(c) {
			t.Errorf("expected request logger on context")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-Id", "rid-1")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-Id"); got != "rid-1" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request_id in log, got %s", buf.String())
	}
}
