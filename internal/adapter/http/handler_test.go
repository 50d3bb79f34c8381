package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type healthBody struct {
	Status       string            `json:"status"`
	Time         string            `json:"time"`
	Dependencies map[string]string `json:"dependencies"`
}

func callHealth(t *testing.T, h *Handler) (*httptest.ResponseRecorder, healthBody) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
	if err := h.Health(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		t.Fatalf("expected Content-Type application/json, got %q", ct)
	}
	var body healthBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v; raw=%s", err, rec.Body.String())
	}
	return rec, body
}

func TestHealth_OKWithUTCTimestamp(t *testing.T) {
	start := time.Now().UTC()
	rec, body := callHealth(t, NewHandler())

	if rec.Code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", rec.Code, body.Status)
	}
	if body.Dependencies != nil {
		t.Fatalf("no checks configured, got dependencies %v", body.Dependencies)
	}
	parsed, err := time.Parse(time.RFC3339Nano, body.Time)
	if err != nil {
		t.Fatalf("time not RFC3339Nano: %v (value=%q)", err, body.Time)
	}
	if parsed.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", parsed.Location())
	}
	if parsed.Before(start.Add(-2*time.Second)) || parsed.After(time.Now().UTC().Add(2*time.Second)) {
		t.Fatalf("time not within expected window: %v", parsed)
	}
}

func TestHealth_Dependencies(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: connection refused") }

	tests := []struct {
		name   string
		checks []HealthCheck
		code   int
		status string
		deps   map[string]string
	}{
		{"all up", []HealthCheck{{"mysql", ok}, {"rpc", ok}}, http.StatusOK, "ok",
			map[string]string{"mysql": "ok", "rpc": "ok"}},
		{"rpc down", []HealthCheck{{"mysql", ok}, {"rpc", down}}, http.StatusServiceUnavailable, "degraded",
			map[string]string{"mysql": "ok", "rpc": "dial tcp: connection refused"}},
		{"nil probe skipped", []HealthCheck{{"redis", nil}, {"mysql", ok}}, http.StatusOK, "ok",
			map[string]string{"mysql": "ok"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := callHealth(t, NewHandler(tt.checks...))
			if rec.Code != tt.code || body.Status != tt.status {
				t.Fatalf("got %d %q, want %d %q", rec.Code, body.Status, tt.code, tt.status)
			}
			if len(body.Dependencies) != len(tt.deps) {
				t.Fatalf("dependencies = %v, want %v", body.Dependencies, tt.deps)
			}
			for k, v := range tt.deps {
				if body.Dependencies[k] != v {
					t.Fatalf("dependency %s = %q, want %q", k, body.Dependencies[k], v)
				}
			}
		})
	}
}

func TestHealth_ProbeGetsDeadline(t *testing.T) {
	var hasDeadline bool
	callHealth(t, NewHandler(HealthCheck{Name: "mysql", Fn: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}}))
	if !hasDeadline {
		t.Fatal("probe context must carry a deadline")
	}
}
