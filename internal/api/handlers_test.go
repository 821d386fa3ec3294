package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"go-recruiter/internal/config"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestHealthHandler_ReturnsOk(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", healthHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	if !contains(w.Body.String(), "ok") {
		t.Errorf("expected response to contain 'ok', got: %s", w.Body.String())
	}
}

func TestConfigHandler_HidesSecrets(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Backend = config.BackendOpenAI
	cfg.LLM.Name = "gpt-4o-mini"
	cfg.LLM.APIKey = "sk-secret"
	cfg.Redis.Password = "hunter2"

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/config", configHandler(cfg))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/config", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d: %s", w.Code, w.Body.String())
	}
	if !contains(w.Body.String(), "\"gpt-4o-mini\"") {
		t.Errorf("expected response to contain LLM config fields, got: %s", w.Body.String())
	}
	if contains(w.Body.String(), "sk-secret") || contains(w.Body.String(), "hunter2") {
		t.Errorf("config leaked a secret: %s", w.Body.String())
	}
}
