package runner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/worker"
)

func TestHTTPReporter_Report(t *testing.T) {
	finished := time.Date(2024, 6, 1, 9, 10, 0, 0, time.UTC)

	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/syncbot/stream/message" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	r := NewHTTPReporter(config.ReportConfig{BackendURL: server.URL + "/api/", ControlSecret: "secret"}, "bot")
	r.now = func() time.Time { return finished }

	res := &worker.Result{Step: worker.StepEndSync, SimpleResponse: "1 SUCCESS"}
	if err := r.Report(context.Background(), "bot_w_free_0", 1, res); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	if body["prefix"] != "bot" {
		t.Errorf("prefix = %v", body["prefix"])
	}
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("missing data in %v", body)
	}
	if data["prefix"] != "bot" || data["workerId"] != "bot_w_free_0" || data["userId"] != float64(1) {
		t.Errorf("unexpected data: %v", data)
	}
	if data["finishedAt"] != "2024-06-01T09:10:00Z" {
		t.Errorf("finishedAt = %v", data["finishedAt"])
	}
	result, ok := data["result"].(map[string]any)
	if !ok || result["simpleResponse"] != "1 SUCCESS" || result["step"] != "endSync" {
		t.Errorf("unexpected result: %v", data["result"])
	}
}

func TestHTTPReporter_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	r := NewHTTPReporter(config.ReportConfig{BackendURL: server.URL}, "bot")
	if err := r.Report(context.Background(), "w", 1, &worker.Result{}); err == nil {
		t.Error("expected an error for a 401 response")
	}
}

func TestHTTPReporter_NoBackend(t *testing.T) {
	r := NewHTTPReporter(config.ReportConfig{}, "bot")
	if err := r.Report(context.Background(), "w", 1, &worker.Result{}); err != nil {
		t.Errorf("Report without backend = %v, want nil", err)
	}
}
