package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/ads-trace/internal/auth"
	"github.com/unklstewy/ads-trace/pkg/collector"
	"github.com/unklstewy/ads-trace/pkg/trace"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startCollector runs a collector with metrics on reg until the test ends.
func startCollector(t *testing.T, reg prometheus.Registerer) *collector.Collector {
	t.Helper()
	c := collector.New(collector.Options{Logger: quietLogger(), Metrics: collector.NewMetrics(reg)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c
}

func do(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func seed(t *testing.T, c *collector.Collector, id string, ts float64) {
	t.Helper()
	pos := trace.Position{Latitude: 50, Longitude: -1, Altitude: trace.Feet(12000)}
	if err := c.Update(context.Background(), id, pos, ts); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

// TestGetTrace tests trace retrieval and the 404 path.
func TestGetTrace(t *testing.T) {
	c := startCollector(t, nil)
	srv := NewServer(Options{Traces: c, Logger: quietLogger()})
	seed(t, c, "a12345", 1700000000)

	t.Run("Known trace", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/traces/A12345", "", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected JSON content type, got %s", ct)
		}

		var got collector.TraceReply
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("Invalid response: %v", err)
		}
		want := collector.TraceReply{
			ID:     "a12345",
			Points: []trace.Point{{Latitude: 50, Longitude: -1, Altitude: trace.Feet(12000), Timestamp: 1700000000}},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("reply mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Unknown trace", func(t *testing.T) {
		rec := do(t, srv, http.MethodGet, "/traces/ffffff", "", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got %d", rec.Code)
		}
	})
}

// TestDestroyTrace tests deletion without auth configured.
func TestDestroyTrace(t *testing.T) {
	c := startCollector(t, nil)
	srv := NewServer(Options{Traces: c, Logger: quietLogger()})
	seed(t, c, "a12345", 1700000000)

	rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	if rec := do(t, srv, http.MethodGet, "/traces/a12345", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected trace gone after delete, got %d", rec.Code)
	}

	// Deleting an unknown trace is not an error
	if rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", ""); rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for unknown trace, got %d", rec.Code)
	}
}

// TestCleanTraces tests eviction relative to the server clock.
func TestCleanTraces(t *testing.T) {
	c := startCollector(t, nil)
	now := time.Unix(1700001000, 0)
	srv := NewServer(Options{Traces: c, Logger: quietLogger(), Now: func() time.Time { return now }})

	seed(t, c, "a00001", 1700000000) // idle 1000 s
	seed(t, c, "b00002", 1700000900) // idle 100 s

	rec := do(t, srv, http.MethodPost, "/traces/clean", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var snap collector.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if snap.Traces != 1 {
		t.Errorf("Expected 1 trace after clean, got %d", snap.Traces)
	}
}

// TestStats tests the stats endpoint with and without database counters.
func TestStats(t *testing.T) {
	c := startCollector(t, nil)
	seed(t, c, "a00001", 1)
	seed(t, c, "b00002", 1)

	srv := NewServer(Options{
		Traces: c,
		Logger: quietLogger(),
		DBStats: func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"position_records": 42}, nil
		},
	})

	rec := do(t, srv, http.MethodGet, "/stats", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var got struct {
		Traces   int            `json:"traces"`
		Points   int            `json:"points"`
		Database map[string]int `json:"database"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Invalid response: %v", err)
	}
	if got.Traces != 2 || got.Points != 2 {
		t.Errorf("Expected 2 traces with 2 points, got %+v", got)
	}
	if got.Database["position_records"] != 42 {
		t.Errorf("Expected database stats, got %v", got.Database)
	}
}

// TestHealth tests health reporting with a database probe.
func TestHealth(t *testing.T) {
	c := startCollector(t, nil)

	tests := []struct {
		name   string
		health func(context.Context) bool
		want   int
	}{
		{"No database", nil, http.StatusOK},
		{"Database up", func(context.Context) bool { return true }, http.StatusOK},
		{"Database down", func(context.Context) bool { return false }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Options{Traces: c, Logger: quietLogger(), Health: tt.health})
			if rec := do(t, srv, http.MethodGet, "/healthz", "", ""); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

// TestMetricsEndpoint tests that collector metrics are exposed.
func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := startCollector(t, reg)
	srv := NewServer(Options{Traces: c, Logger: quietLogger(), Gatherer: reg})
	seed(t, c, "a00001", 1)
	if err := c.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	rec := do(t, srv, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "adstrace_traces 1") {
		t.Errorf("Expected adstrace_traces gauge in output:\n%s", rec.Body.String())
	}
}

// TestOperatorAuth tests that mutating endpoints require an operator token.
func TestOperatorAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Failed to hash password: %v", err)
	}
	authSvc := auth.NewService(auth.Config{JWTSecret: "secret", PasswordHash: string(hash)})

	c := startCollector(t, nil)
	srv := NewServer(Options{Traces: c, Auth: authSvc, Logger: quietLogger()})
	seed(t, c, "a12345", 1)

	viewerToken, err := authSvc.GenerateToken("kiosk", auth.RoleViewer)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	t.Run("Reads stay open", func(t *testing.T) {
		if rec := do(t, srv, http.MethodGet, "/traces/a12345", "", ""); rec.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", rec.Code)
		}
	})

	t.Run("Missing token", func(t *testing.T) {
		if rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("Bad token", func(t *testing.T) {
		if rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", "garbage"); rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("Viewer token", func(t *testing.T) {
		if rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", viewerToken); rec.Code != http.StatusForbidden {
			t.Errorf("Expected 403, got %d", rec.Code)
		}
	})

	t.Run("Wrong password", func(t *testing.T) {
		if rec := do(t, srv, http.MethodPost, "/auth/token", `{"password":"nope"}`, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401, got %d", rec.Code)
		}
	})

	t.Run("Login then delete", func(t *testing.T) {
		rec := do(t, srv, http.MethodPost, "/auth/token", `{"password":"pw"}`, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200 from login, got %d", rec.Code)
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Token == "" {
			t.Fatalf("Expected token in response, got %s", rec.Body.String())
		}

		if rec := do(t, srv, http.MethodDelete, "/traces/a12345", "", body.Token); rec.Code != http.StatusNoContent {
			t.Errorf("Expected 204, got %d", rec.Code)
		}
	})
}

// TestLoginDisabled tests that token issue is unavailable without auth.
func TestLoginDisabled(t *testing.T) {
	c := startCollector(t, nil)
	srv := NewServer(Options{Traces: c, Logger: quietLogger()})

	if rec := do(t, srv, http.MethodPost, "/auth/token", `{"password":"x"}`, ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
