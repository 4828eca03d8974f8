package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_Init(t *testing.T) {
	// Init should not panic when called multiple times
	Init()
	Init()
}

func TestMetrics_Handler(t *testing.T) {
	Init()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()

	expectedMetrics := []string{
		"pgxray_connections_total",
		"pgxray_connections_open",
		"pgxray_query_total",
		"pgxray_query_error_total",
		"pgxray_query_latency_seconds",
		"pgxray_dropped_events_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Expected metric %q not found in response", metric)
		}
	}
}

func TestRecordConnectionOpenedAndClosed(t *testing.T) {
	Init()

	RecordConnectionOpened()
	RecordConnectionClosed()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), "pgxray_connections_open") {
		t.Error("expected pgxray_connections_open in output")
	}
}

func TestRecordQueryCompleteAndError(t *testing.T) {
	Init()

	RecordQueryComplete(0.002)
	RecordQueryError()
	RecordDropped(3)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, "pgxray_query_latency_seconds") {
		t.Error("expected pgxray_query_latency_seconds in output")
	}
}
