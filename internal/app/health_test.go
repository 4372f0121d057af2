package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	handler := newTestServer(newMemStore())

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		request := httptest.NewRequest(method, "/api/health", nil)
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		if recorder.Code != http.StatusOK {
			t.Fatalf("%s /api/health = %d", method, recorder.Code)
		}
	}

	request := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	ms := newMemStore()
	handler := newTestServer(ms)

	request := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("ready status %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true || body["status"] != "ready" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	ms := newMemStore()
	ms.pingErr = errors.New("connection refused")
	handler := newTestServer(ms)

	request := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "not_ready" {
		t.Fatalf("unexpected body %v", body)
	}
	checks := body["checks"].(map[string]any)
	database := checks["database"].(map[string]any)
	if database["status"] != "error" {
		t.Fatalf("database check should report the error, got %v", database)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	handler := newTestServer(newMemStore())

	// Generate at least one measured request first.
	warmup := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), warmup)

	request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics status %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "bookrelay_http_requests_total") {
		t.Fatal("request counter missing from metrics exposition")
	}
}
