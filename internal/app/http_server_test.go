package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/storefront/internal/health"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

func TestStartMetricsServer_Endpoints(t *testing.T) {
	logger := log.WithField("test", "http")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "storefront_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	srv := startMetricsServer(ctx, addr, logger, healthHandler, registry)
	if srv == nil {
		t.Fatal("startMetricsServer should not return nil")
	}
	waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))

	body := getBody(t, fmt.Sprintf("http://%s/metrics", addr), http.StatusOK)
	if !strings.Contains(body, "storefront_test_total 1") {
		t.Errorf("/metrics should expose registry collectors, got %q", body)
	}

	var health healthcheck.Response
	if err := json.Unmarshal([]byte(getBody(t, fmt.Sprintf("http://%s/healthz", addr), http.StatusOK)), &health); err != nil {
		t.Fatalf("decode /healthz: %v", err)
	}
	if health.Status != healthcheck.StatusHealthy {
		t.Errorf("expected healthy status, got %s", health.Status)
	}

	if body := getBody(t, fmt.Sprintf("http://%s/livez", addr), http.StatusOK); body != "ok" {
		t.Errorf("expected 'ok' from /livez, got %q", body)
	}
	if body := getBody(t, fmt.Sprintf("http://%s/readyz", addr), http.StatusOK); body != "ready" {
		t.Errorf("expected 'ready' from /readyz, got %q", body)
	}
}

func TestStartMetricsServer_ReadinessFollowsCheckers(t *testing.T) {
	logger := log.WithField("test", "http-ready")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	healthHandler.RegisterChecker("breaker", healthcheck.NewStateChecker("breaker", func() (bool, string) {
		return true, "circuit open"
	}))
	startMetricsServer(ctx, addr, logger, healthHandler, prometheus.NewRegistry())
	waitForHTTP(t, fmt.Sprintf("http://%s/livez", addr))

	// Деградация не снимает готовность.
	getBody(t, fmt.Sprintf("http://%s/readyz", addr), http.StatusOK)

	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", func(context.Context) error {
		return fmt.Errorf("connection refused")
	}))
	getBody(t, fmt.Sprintf("http://%s/readyz", addr), http.StatusServiceUnavailable)
	getBody(t, fmt.Sprintf("http://%s/healthz", addr), http.StatusServiceUnavailable)
}

func TestStartMetricsServer_Shutdown(t *testing.T) {
	logger := log.WithField("test", "http-shutdown")

	port := findFreePort(t)
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	url := fmt.Sprintf("http://%s/livez", addr)

	ctx, cancel := context.WithCancel(context.Background())

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	startMetricsServer(ctx, addr, logger, healthHandler, prometheus.NewRegistry())
	waitForHTTP(t, url)

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err != nil {
			return
		}
		resp.Body.Close()
		if time.Now().After(deadline) {
			t.Fatal("server should be stopped after context cancellation")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}

func TestShutdownHTTP_WithServer(t *testing.T) {
	logger := log.WithField("test", "http-shutdown-func")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	url := fmt.Sprintf("http://%s/test", listener.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/test", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("test"))
	})
	srv := &http.Server{Handler: mux}
	go func() {
		_ = srv.Serve(listener)
	}()

	getBody(t, url, http.StatusOK)

	shutdownHTTP(srv, logger)

	if _, err := http.Get(url); err == nil {
		t.Error("server should be stopped after shutdownHTTP")
	}
}

// findFreePort находит свободный порт для тестов
func findFreePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForHTTP(t *testing.T, url string) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server at %s did not start: %v", url, err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func getBody(t *testing.T, url string, wantStatus int) string {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d (body %q)", url, resp.StatusCode, wantStatus, body)
	}
	return string(body)
}
