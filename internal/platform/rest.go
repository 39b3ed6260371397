package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zudduz/cscratch-dg/internal/types"
)

// defaultAPIBase is the platform REST root. Overridable for tests.
const defaultAPIBase = "https://discord.com/api/v10"

// maxErrorBodyRead limits how much of an error response body is read for
// diagnostics.
const maxErrorBodyRead = 4096

// codeAlreadyAcknowledged is the platform error code returned when an
// interaction response already exists. The tracker treats it as success.
const codeAlreadyAcknowledged = 40060

// responseTypeDeferred is the interaction callback type for a deferred
// ("thinking...") acknowledgment.
const responseTypeDeferred = 5

// flagEphemeral marks an interaction response as visible only to the invoker.
const flagEphemeral = 1 << 6

// ErrAlreadyAcknowledged signals that the interaction had already been
// responded to, typically by a prior handler or a retried dispatch.
var ErrAlreadyAcknowledged = errors.New("platform: interaction already acknowledged")

// APIError is a non-2xx response from the platform REST API.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("platform api error: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// REST is the thin slice of the platform HTTP API the relay needs: the
// acknowledgment lifecycle calls, command schema registration, and gateway
// URL discovery. All requests carry bot authorization.
type REST struct {
	httpc  *http.Client
	token  types.SecretString
	base   string
	logger types.Logger
}

// RESTOption configures a REST client.
type RESTOption func(*REST)

// WithBaseURL overrides the API root. Intended for tests against httptest
// servers.
func WithBaseURL(base string) RESTOption {
	return func(r *REST) { r.base = base }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) RESTOption {
	return func(r *REST) { r.httpc = c }
}

// NewREST creates a REST client authenticated as the bot.
func NewREST(token types.SecretString, logger types.Logger, opts ...RESTOption) *REST {
	r := &REST{
		httpc:  &http.Client{Timeout: 10 * time.Second},
		token:  token,
		base:   defaultAPIBase,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GatewayURL resolves the websocket URL the session should dial.
func (r *REST) GatewayURL(ctx context.Context) (string, error) {
	body, err := r.do(ctx, http.MethodGet, "/gateway/bot", nil)
	if err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode gateway url: %w", err)
	}
	if out.URL == "" {
		return "", errors.New("platform: gateway url missing from response")
	}
	return out.URL, nil
}

// DeferInteraction issues the deferred acknowledgment for an interaction.
// It must complete within the platform's response deadline (a few seconds
// from event receipt). Returns ErrAlreadyAcknowledged when the platform
// reports the interaction already has a response.
func (r *REST) DeferInteraction(ctx context.Context, interactionID, interactionToken string, ephemeral bool) error {
	type callbackData struct {
		Flags int `json:"flags,omitempty"`
	}
	payload := struct {
		Type int           `json:"type"`
		Data *callbackData `json:"data,omitempty"`
	}{Type: responseTypeDeferred}
	if ephemeral {
		payload.Data = &callbackData{Flags: flagEphemeral}
	}

	path := fmt.Sprintf("/interactions/%s/%s/callback", interactionID, interactionToken)
	_, err := r.do(ctx, http.MethodPost, path, payload)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeAlreadyAcknowledged {
		return ErrAlreadyAcknowledged
	}
	return err
}

// DeleteOriginalResponse withdraws the placeholder response created by the
// deferral. Fails with an APIError once the interaction token has expired.
func (r *REST) DeleteOriginalResponse(ctx context.Context, applicationID, interactionToken string) error {
	path := fmt.Sprintf("/webhooks/%s/%s/messages/@original", applicationID, interactionToken)
	_, err := r.do(ctx, http.MethodDelete, path, nil)
	return err
}

// BulkOverwriteCommands replaces the application's declared command schema.
// When guildID is non-empty the commands are registered guild-scoped, which
// propagates instantly; otherwise globally.
func (r *REST) BulkOverwriteCommands(ctx context.Context, applicationID, guildID string, cmds []ApplicationCommand) error {
	path := fmt.Sprintf("/applications/%s/commands", applicationID)
	if guildID != "" {
		path = fmt.Sprintf("/applications/%s/guilds/%s/commands", applicationID, guildID)
	}
	_, err := r.do(ctx, http.MethodPut, path, cmds)
	if err != nil {
		return err
	}

	r.logger.Info("command schema registered",
		"count", len(cmds),
		"guild_scoped", guildID != "",
	)
	return nil
}

// do executes one REST call and returns the response body. Non-2xx responses
// are returned as *APIError with the platform error code parsed out.
func (r *REST) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+r.token.Unmask())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyRead))

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return nil, apiErr
	}

	return raw, nil
}
