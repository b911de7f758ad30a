package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maltedev/shop-ranking-scraper/internal/api"
)

// ErrRejected marks a request the server refused outright; retrying it
// cannot succeed.
var ErrRejected = errors.New("run request rejected")

// APIClient submits runs to the ranking server over HTTP.
type APIClient struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

func NewAPIClient(httpClient *http.Client, baseURL string, maxRetries int, logger *slog.Logger) *APIClient {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &APIClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxRetries: maxRetries,
		backoff:    time.Second,
		logger:     logger,
	}
}

// SubmitRun posts req and returns the ID of the queued run. Transport
// errors and 5xx answers are retried with a linear backoff.
func (c *APIClient) SubmitRun(ctx context.Context, req api.CreateRunRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}

		id, err := c.post(ctx, body)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, ErrRejected) {
			return "", err
		}
		lastErr = err
		c.logger.Warn("run submission failed", "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("run submission failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *APIClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/runs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusAccepted:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	default:
		return "", fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var out api.CreateRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return out.ID, nil
}
