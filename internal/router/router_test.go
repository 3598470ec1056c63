package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/oryjk/payment-go/internal/config"
	"github.com/oryjk/payment-go/internal/provider"

	"github.com/gin-gonic/gin"
)

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Server.Mode = "debug"

	r := SetupRouter(cfg, &provider.Container{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", w.Body.String())
	}
}
