// Package advisor implements the remote draft advisor collaborators: the
// blocking request/response endpoints used by queue reconciliation and the
// streaming endpoint used for live analysis. All upstream response shapes
// are normalized at this boundary; nothing past it sees the raw envelopes.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Billy-Davies-2/draft-copilot/internal/config"
)

// Conflict codes the advisor reports with HTTP 409.
const (
	CodeSessionExpired = "session_expired"
	CodePickConflict   = "pick_conflict"
)

// APIError is a semantic error reported by the advisor with an HTTP status
// and a machine-readable code.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("advisor: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsOfflineWorthy classifies an error as a transient network/availability
// failure that should trigger offline fallback: transport-level errors
// (no HTTP status at all) and gateway/timeout statuses. Rate limiting (429)
// is explicitly excluded, as is caller-initiated cancellation.
func IsOfflineWorthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		// No HTTP status: transport failure, timeout or DNS error.
		return true
	}
	switch apiErr.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return true
	}
	return false
}

// IsConflict reports whether the advisor answered 409.
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsSessionExpired reports the 409 variant meaning the advisor conversation
// is gone and local draft-AI state must be rebuilt from scratch.
func IsSessionExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Status == http.StatusConflict && apiErr.Code == CodeSessionExpired
}

// IsRateLimited reports a 429, surfaced as a transient warning and never as
// offline fallback.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}

// Reply is the single internal contract every upstream response shape maps
// to.
type Reply struct {
	Text           string
	ConversationID string
}

// Client talks to the remote draft advisor.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an advisor client from configuration.
func NewClient(cfg config.Advisor) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type request struct {
	User           string         `json:"user"`
	ConversationID string         `json:"conversationId,omitempty"`
	Payload        map[string]any `json:"payload"`
}

// envelope covers every known upstream response shape. The advisor has
// shipped content under content, answer, data.content and data.answer at
// different times; normalize maps them all to Reply.
type envelope struct {
	Content        string `json:"content"`
	Answer         string `json:"answer"`
	ConversationID string `json:"conversationId"`
	Data           *struct {
		Content        string `json:"content"`
		Answer         string `json:"answer"`
		ConversationID string `json:"conversationId"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func normalize(env envelope) Reply {
	r := Reply{ConversationID: env.ConversationID}
	switch {
	case env.Content != "":
		r.Text = env.Content
	case env.Answer != "":
		r.Text = env.Answer
	case env.Data != nil && env.Data.Content != "":
		r.Text = env.Data.Content
	case env.Data != nil && env.Data.Answer != "":
		r.Text = env.Data.Answer
	}
	if r.ConversationID == "" && env.Data != nil {
		r.ConversationID = env.Data.ConversationID
	}
	return r
}

// InitializeDraft starts an advisor session for the configured league and
// returns the conversation id to correlate later calls.
func (c *Client) InitializeDraft(ctx context.Context, user string, teams, pick int) (Reply, error) {
	return c.post(ctx, "/api/draft/initialize", request{
		User: user,
		Payload: map[string]any{
			"teams": teams,
			"pick":  pick,
		},
	})
}

// RecordDraft reports a pick made by the user.
func (c *Client) RecordDraft(ctx context.Context, user, conversationID, playerID string, round, pick int) (Reply, error) {
	return c.post(ctx, "/api/draft/pick", request{
		User:           user,
		ConversationID: conversationID,
		Payload: map[string]any{
			"playerId": playerID,
			"round":    round,
			"pick":     pick,
		},
	})
}

// RecordTaken reports a pick claimed by another team.
func (c *Client) RecordTaken(ctx context.Context, user, conversationID, playerID string, round, pick int) (Reply, error) {
	return c.post(ctx, "/api/draft/taken", request{
		User:           user,
		ConversationID: conversationID,
		Payload: map[string]any{
			"playerId": playerID,
			"round":    round,
			"pick":     pick,
		},
	})
}

func (c *Client) post(ctx context.Context, path string, body request) (Reply, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal advisor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Reply{}, fmt.Errorf("build advisor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, fmt.Errorf("advisor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Reply{}, fmt.Errorf("read advisor response: %w", err)
	}

	var env envelope
	// A decode failure on an error status must not mask the status itself.
	_ = json.Unmarshal(raw, &env)

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return Reply{}, apiErr
	}
	if env.Error != nil {
		return Reply{}, &APIError{Status: resp.StatusCode, Code: env.Error.Code, Message: env.Error.Message}
	}

	return normalize(env), nil
}
