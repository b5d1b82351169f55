package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/SAP-F-2025/tryout-runtime/internal/models"
	"github.com/jonboulle/clockwork"
)

var ErrEmptyResponse = errors.New("empty response data")

// APIError is returned for any non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %s %s returned status code: %d, response: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// envelope is the single response layer every backend endpoint uses.
type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Clock   clockwork.Clock
}

// Client talks to the session, proctoring and answer endpoints of the
// tryout backend.
type Client struct {
	baseURL string
	client  *http.Client
	headers map[string]string
	clock   clockwork.Clock
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	c := &Client{
		baseURL: cfg.BaseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		headers: map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		},
		clock: cfg.Clock,
	}
	if cfg.Token != "" {
		c.headers["Authorization"] = "Bearer " + cfg.Token
	}
	return c
}

// GetSession fetches the session detail used to seed the countdown.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	var detail models.SessionDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// SubmitAttempt finishes the attempt and returns the submit result.
func (c *Client) SubmitAttempt(ctx context.Context, sessionID string) (*models.SubmitResult, error) {
	var result models.SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/submit", struct{}{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelAttempt terminates the attempt after a proctoring cancellation.
func (c *Client) CancelAttempt(ctx context.Context, sessionID string, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(sessionID)+"/cancel", models.CancelRequest{Reason: reason}, nil)
}

// AnalyzeFace submits one webcam frame for analysis.
func (c *Client) AnalyzeFace(ctx context.Context, sessionID string, frame []byte) (*models.AnalysisResult, error) {
	req := models.AnalyzeFaceRequest{
		SessionID:  sessionID,
		Image:      base64.StdEncoding.EncodeToString(frame),
		CapturedAt: c.clock.Now().UTC(),
	}
	var result models.AnalysisResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/proctoring/sessions/"+url.PathEscape(sessionID)+"/analyze-face", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       string(responseBody),
		}
	}

	if out == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(responseBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
