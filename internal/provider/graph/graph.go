package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailbridge/internal/email"
)

const (
	defaultLoginURL = "https://login.microsoftonline.com"
	defaultGraphURL = "https://graph.microsoft.com/v1.0"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Config holds the configuration for creating a Graph provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox whose sendMail endpoint is used.
	Sender      string
	HeaderMerge HeaderMerge
	Timeout     time.Duration
}

// Option customizes a Provider.
type Option func(*options)

type options struct {
	graphURL   string
	tokenURL   string
	httpClient *http.Client
}

// WithEndpoints overrides the Graph API base URL and the token endpoint.
func WithEndpoints(graphURL, tokenURL string) Option {
	return func(o *options) {
		o.graphURL = graphURL
		o.tokenURL = tokenURL
	}
}

// WithHTTPClient sets the HTTP client used for token and API requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// Provider sends messages through the Microsoft Graph sendMail endpoint
// using OAuth2 client credentials.
type Provider struct {
	sendURL    string
	merge      HeaderMerge
	httpClient *http.Client
	token      *tokenCache
}

// New creates a Graph provider.
func New(cfg Config, opts ...Option) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	o := options{
		graphURL: defaultGraphURL,
		tokenURL: fmt.Sprintf("%s/%s/oauth2/v2.0/token", defaultLoginURL, url.PathEscape(cfg.TenantID)),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: timeout}
	}

	merge := cfg.HeaderMerge
	if merge == "" {
		merge = HeaderMergeJoin
	}

	return &Provider{
		sendURL:    fmt.Sprintf("%s/users/%s/sendMail", o.graphURL, url.PathEscape(cfg.Sender)),
		merge:      merge,
		httpClient: o.httpClient,
		token:      newTokenCache(o.tokenURL, cfg.ClientID, cfg.ClientSecret, o.httpClient),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// Send delivers msg without keeping a copy in the sender's mailbox.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	return p.submit(ctx, msg, false)
}

// SendAndSaveCopy delivers msg and stores a copy in folder. Graph only
// supports saving to Sent Items.
func (p *Provider) SendAndSaveCopy(ctx context.Context, msg *email.Message, folder email.WellKnownFolder) error {
	if folder != email.FolderSentItems {
		return fmt.Errorf("graph: cannot save copy to folder %q", folder)
	}
	return p.submit(ctx, msg, true)
}

// submit posts the sendMail request, retrying transient failures with
// exponential backoff, honoring Retry-After on 429 and refreshing the
// token once on 401.
func (p *Provider) submit(ctx context.Context, msg *email.Message, saveCopy bool) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(msg, saveCopy, p.merge))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := p.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			return err
		}

		switch {
		case apiErr.StatusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := p.token.ForceRefresh(); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
		case apiErr.StatusCode == http.StatusTooManyRequests:
			delay := retryAfterDelay(apiErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case apiErr.Transient():
			delay := backoffDelay(attempt)
			slog.Info("transient Graph API error, retrying",
				"status", apiErr.StatusCode,
				"request_id", apiErr.RequestID,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return apiErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// doSendRequest performs a single HTTP request to the sendMail endpoint.
func (p *Provider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	token, err := p.token.Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("client-request-id", requestID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{
			Message:   fmt.Sprintf("HTTP request failed: %v", err),
			RequestID: requestID,
		}
	}
	defer resp.Body.Close()

	// 202 Accepted is the documented success status for sendMail.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Message:    string(body),
		RequestID:  requestID,
		retryAfter: resp.Header.Get("Retry-After"),
	}

	var errResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error.Message != "" {
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}

// APIError is an error reported by the Graph API, or a transport failure
// reaching it (StatusCode 0).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	retryAfter string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// retryAfterDelay parses a Retry-After value in seconds, falling back to
// exponential backoff if it is missing or unparseable.
func retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(attempt)
}

// backoffDelay returns 1s, 2s, 4s... for attempts 0, 1, 2...
func backoffDelay(attempt int) time.Duration {
	return baseRetryDelay << attempt
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
