package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/config"
	"github.com/HyunsDev/opize-calendar2notion-syncbot/internal/worker"
)

// Reporter publishes finished runs to the backend
type Reporter interface {
	Report(ctx context.Context, workerID string, userID int64, res *worker.Result) error
}

type reportData struct {
	Prefix     string         `json:"prefix"`
	WorkerID   string         `json:"workerId"`
	UserID     int64          `json:"userId"`
	Result     *worker.Result `json:"result"`
	FinishedAt time.Time      `json:"finishedAt"`
}

type reportMessage struct {
	Prefix string     `json:"prefix"`
	Data   reportData `json:"data"`
}

// HTTPReporter posts run results to the backend's stream endpoint
type HTTPReporter struct {
	url        string
	secret     string
	prefix     string
	httpClient *http.Client
	now        func() time.Time
}

// NewHTTPReporter creates a reporter. With no backend_url configured it reports nothing.
func NewHTTPReporter(cfg config.ReportConfig, prefix string) *HTTPReporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := &HTTPReporter{
		secret:     cfg.ControlSecret,
		prefix:     prefix,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
	if base := strings.TrimRight(strings.TrimSpace(cfg.BackendURL), "/"); base != "" {
		r.url = base + "/syncbot/stream/message"
	}
	return r
}

// Report sends one result
func (r *HTTPReporter) Report(ctx context.Context, workerID string, userID int64, res *worker.Result) error {
	if r.url == "" {
		return nil
	}

	body, err := json.Marshal(reportMessage{
		Prefix: r.prefix,
		Data: reportData{
			Prefix:     r.prefix,
			WorkerID:   workerID,
			UserID:     userID,
			Result:     res,
			FinishedAt: r.now().UTC(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.secret)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}
