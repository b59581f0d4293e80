package logmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/logmonitor/logmonitor-agent/internal/logging"
)

const (
	DefaultEndpoint = "https://api.logmonitor.io/v1/logs"
	DefaultTimeout  = 10 * time.Second

	HeaderAPIKey   = "X-Logmonitor-Api-Key"
	HeaderBundleID = "X-Logmonitor-Bundle-Id"

	maxErrorBody = 2 << 10
)

var ErrUnexpectedStatus = errors.New("unexpected status")

// StatusError reports a response other than 202 Accepted.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("logmonitor returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("logmonitor returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Sender posts a batch to the collector in a single request.
type Sender struct {
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Sender)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

func NewSender(endpoint string, timeout time.Duration, opts ...Option) *Sender {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Sender{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sender) Endpoint() string { return s.endpoint }

func (s *Sender) SendBatch(ctx context.Context, entries []logging.LogEntry, apiKey, bundleID string) error {
	if len(entries) == 0 {
		return nil
	}

	body, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	if err := s.sendRequest(ctx, body, apiKey, bundleID); err != nil {
		return err
	}

	s.logger.Debug().Int("entries", len(entries)).Msg("batch accepted by logmonitor")
	return nil
}

func (s *Sender) sendRequest(ctx context.Context, body []byte, apiKey, bundleID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAPIKey, apiKey)
	if bundleID != "" {
		req.Header.Set(HeaderBundleID, bundleID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusAccepted {
		responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(responseBody))}
	}

	return nil
}
