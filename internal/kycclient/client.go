package kycclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/kyc-worker/internal/assessment"
	"github.com/example/kyc-worker/internal/logging"
)

const (
	completePath = "/api/v1/kyc/internal/complete"
	// TokenHeader authenticates the worker to the KYC service.
	TokenHeader    = "X-Gephub-Worker-Token"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client delivers assessments to the KYC service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// New builds a client for baseURL. A nil httpClient uses a client with a 10s timeout.
func New(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  logger.Named("kycclient"),
	}
}

// Complete posts the assessment payload. Any non-2xx status is an error.
func (c *Client) Complete(ctx context.Context, result *assessment.Assessment) error {
	body, err := json.Marshal(result)
	if err != nil {
		return logging.NewOperationError("kycclient.complete", "", fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completePath, bytes.NewReader(body))
	if err != nil {
		return logging.NewOperationError("kycclient.complete", "", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("kycclient.complete", "", err)
		c.logger.Error("result delivery failed", zap.Error(wrapped), zap.String("session_id", result.SessionID))
		return wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		wrapped := logging.NewOperationError("kycclient.complete", "", &StatusError{Code: resp.StatusCode, Body: string(snippet)})
		c.logger.Error("kyc service rejected result", zap.Error(wrapped), zap.String("session_id", result.SessionID))
		return wrapped
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, strings.TrimSpace(e.Body))
}
