package ops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logx "courtbot/pkg/logx"
)

func newRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "courtbot_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(2)
	return reg
}

func get(t *testing.T, h http.Handler, target, bearer string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHealthAndMetrics(t *testing.T) {
	s := New(Config{}, logx.Nop(), WithGatherer(newRegistry(t)), WithVersion("v1.2.3"),
		WithHealth(func() (map[string]any, error) { return map[string]any{"targets": 3}, nil }))
	h := s.Handler(Config{})

	code, body := get(t, h, "/healthz", "")
	if code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}
	var got Health
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Status != "ok" || got.Version != "v1.2.3" || got.Details["targets"] != float64(3) {
		t.Fatalf("health = %+v", got)
	}

	code, body = get(t, h, "/metrics", "")
	if code != http.StatusOK || !strings.Contains(body, "courtbot_test_total 2") {
		t.Fatalf("metrics = %d %q", code, body)
	}

	if code, _ := get(t, h, "/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof should be off by default, got %d", code)
	}
}

func TestHealthFailureIs503(t *testing.T) {
	s := New(Config{}, logx.Nop(), WithHealth(func() (map[string]any, error) { return nil, errors.New("scheduler stopped") }))
	code, body := get(t, s.Handler(Config{}), "/healthz", "")
	if code != http.StatusServiceUnavailable || !strings.Contains(body, "scheduler stopped") {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestTokenGuard(t *testing.T) {
	s := New(Config{}, logx.Nop(), WithGatherer(newRegistry(t)))
	h := s.Handler(Config{Token: "s3cret", Pprof: true, PprofPrefix: "/dbg"})

	tests := []struct {
		target string
		bearer string
		want   int
	}{
		{"/metrics", "", http.StatusUnauthorized},
		{"/metrics", "wrong", http.StatusUnauthorized},
		{"/metrics", "s3cret", http.StatusOK},
		{"/healthz?token=s3cret", "", http.StatusOK},
		{"/dbg/", "s3cret", http.StatusOK},
		{"/dbg/", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		if code, _ := get(t, h, tc.target, tc.bearer); code != tc.want {
			t.Fatalf("%s (bearer %q) = %d, want %d", tc.target, tc.bearer, code, tc.want)
		}
	}
}

func TestServeRefusesPublicBindWithoutToken(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop())
	if err := s.serveOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "insecure bind") {
		t.Fatalf("serveOnce = %v", err)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{}, logx.Nop(), WithGatherer(newRegistry(t)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Reconfigure(ctx, Config{Enabled: true, Addr: "127.0.0.1:0"})

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	s.Reconfigure(sctx, Config{Enabled: false})
	if s.Addr() != "" {
		t.Fatalf("listener still bound after disable")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	for addr, want := range map[string]bool{
		"127.0.0.1:1": true, "localhost:1": true, "[::1]:1": true,
		":1": false, "0.0.0.0:1": false, "10.0.0.1:1": false, "nonsense": false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v", addr, got)
		}
	}
}
