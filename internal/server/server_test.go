package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/imagesentry/imagesentry/internal/metrics"
)

func TestPing(t *testing.T) {
	s := New(nil, ":0", nil)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestHealthHead(t *testing.T) {
	s := New(nil, ":0", nil)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("test")
	m.ImagesSeen.Inc()

	s := New(nil, ":0", m.Handler())

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_images_seen_total 1") {
		t.Fatalf("metrics output missing counter: %s", rec.Body.String())
	}
}

func TestMetricsEndpointAbsentWithoutHandler(t *testing.T) {
	s := New(nil, ":0", nil)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
