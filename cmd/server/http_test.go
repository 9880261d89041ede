package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"
)

func TestLogRequestCapturesStatus(t *testing.T) {
	handler := logRequest(zaptest.NewLogger(t), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected 418, got %d", rec.Code)
	}
}

func TestAdminServer(t *testing.T) {
	if newAdminServer("", prometheus.NewRegistry(), nil) != nil {
		t.Fatal("expected no admin server without an address")
	}

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "chatrelay_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	var readyErr error
	srv := newAdminServer(":0", reg, func(context.Context) error { return readyErr })

	tests := []struct {
		name     string
		path     string
		notReady bool
		want     int
		contains string
	}{
		{name: "health", path: "/healthz", want: http.StatusOK, contains: "ok"},
		{name: "ready", path: "/readyz", want: http.StatusOK, contains: "ready"},
		{name: "not ready", path: "/readyz", notReady: true, want: http.StatusServiceUnavailable, contains: "not_ready"},
		{name: "metrics", path: "/metrics", want: http.StatusOK, contains: "chatrelay_test_total 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readyErr = nil
			if tt.notReady {
				readyErr = errors.New("database down")
			}
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.contains) {
				t.Fatalf("expected body to contain %q, got %q", tt.contains, rec.Body.String())
			}
		})
	}
}
