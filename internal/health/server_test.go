package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type stubChecker struct {
	err error
}

func (s stubChecker) Ping(context.Context) error {
	return s.err
}

func serve(t *testing.T, server *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandlerOK(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger),
		WithChecker("mongo", stubChecker{}),
		WithChecker("redis", stubChecker{}),
	)

	rr := serve(t, server, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", body)
	}

	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected content-type application/json, got %s", ct)
	}
}

func TestHealthHandlerReportsFailingChecks(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger),
		WithChecker("mongo", stubChecker{}),
		WithChecker("redis", stubChecker{err: errors.New("redis down")}),
	)

	rr := serve(t, server, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}

	body := strings.TrimSpace(rr.Body.String())
	if body != `{"status":"degraded","checks":{"redis":"error"}}` {
		t.Fatalf("unexpected body: %s", body)
	}

	entry := hook.LastEntry()
	if entry == nil || entry.Data["check"] != "redis" {
		t.Fatalf("expected warning for redis check, got %+v", entry)
	}
}

func TestHealthHandlerMissingChecker(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger), WithChecker("mongo", nil))

	body := strings.TrimSpace(serve(t, server, "/healthz").Body.String())
	if body != `{"status":"degraded","checks":{"mongo":"error"}}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestMetricsEndpointServesGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})
	reg.MustRegister(counter)
	counter.Inc()

	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger), WithMetrics(reg))

	rr := serve(t, server, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected HTTP 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "probe_total 1") {
		t.Fatalf("expected probe_total in metrics output, got %s", rr.Body.String())
	}
}

func TestMetricsEndpointAbsentByDefault(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(0, logrus.NewEntry(logger))

	if rr := serve(t, server, "/metrics"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics option, got %d", rr.Code)
	}
}

func TestShutdownNilServer(t *testing.T) {
	var server *Server
	if err := server.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil error for nil server, got %v", err)
	}
}
