package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"racing-admin/internal/audit"
	"racing-admin/internal/auth"
	"racing-admin/internal/config"
	"racing-admin/internal/httpapi"

	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, ready func(context.Context) error) (*gin.Engine, *audit.MemoryRepo, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := audit.NewMemoryRepo()
	policy := audit.DefaultPolicy()
	resolver := audit.Resolver{Tokens: m}
	svc := audit.NewService(repo, policy, audit.ServiceOptions{Resolver: resolver, Logger: quiet})

	r := gin.New()
	r.Use(gin.RecoveryWithWriter(io.Discard))
	r.Use(audit.Middleware(policy, resolver, audit.NewBuilder(policy), svc))
	registerRoutes(r, routeDeps{Auth: m, Audit: httpapi.Handlers{Store: repo}, Ready: ready})
	return r, repo, m
}

func TestRoutes_AdminWriteIsAudited(t *testing.T) {
	r, repo, m := newTestRouter(t, nil)
	tok, _ := m.Issue(time.Now(), "admin@example.com", "ADMIN")

	req := httptest.NewRequest(http.MethodDelete, "/api/admin/races/12", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("code = %d", w.Code)
	}

	events := repo.Events()
	if len(events) != 1 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].ActorRole != "ADMIN" || events[0].Status != http.StatusNotImplemented || events[0].Path != "/api/admin/races/12" ||
		events[0].Note != "races handler not wired" {
		t.Fatalf("event = %+v", events[0])
	}

	// Reading the trail is not itself audited.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/audit", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if n := len(repo.Events()); n != 1 {
		t.Fatalf("events after read = %d", n)
	}
}

func TestRoutes_RejectedWriteIsAuditedAnonymously(t *testing.T) {
	r, repo, _ := newTestRouter(t, nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/admin/racers", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", w.Code)
	}
	events := repo.Events()
	if len(events) != 1 || events[0].ActorEmail != audit.AnonymousActor || events[0].Status != http.StatusUnauthorized {
		t.Fatalf("events = %+v", events)
	}
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	r, _, _ := newTestRouter(t, func(context.Context) error { return errors.New("db down") })

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusServiceUnavailable,
		"/metrics": http.StatusOK,
	} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Errorf("%s: code = %d, want %d", path, w.Code, want)
		}
	}
}
