package fitbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stepsync/internal/config"
	"stepsync/internal/metrics"
)

// DefaultBaseURL is the production Fitbit API host
const DefaultBaseURL = "https://api.fitbit.com"

// Client is a thin Fitbit Web API client. Callers supply the access token;
// token lifecycle lives in the tokens package.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	subscriberID string
	logger       *slog.Logger
}

// NewClient creates a new Fitbit API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      DefaultBaseURL,
		clientID:     cfg.FitbitClientID,
		clientSecret: cfg.FitbitClientSecret,
		subscriberID: cfg.FitbitSubscriberID,
		logger:       slog.Default(),
	}
}

// SetBaseURL overrides the API host. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimSuffix(u, "/")
}

// HTTPError is a non-success response from the Fitbit API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fitbit: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a Fitbit 404
func IsNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound
}

// IsUnauthorized reports whether err is a Fitbit 401 or 403
func IsUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) &&
		(httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden)
}

// IsTooManyRequests reports whether err is a Fitbit 429
func IsTooManyRequests(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests
}

// TokenResponse is the Fitbit token endpoint response
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	UserID       string `json:"user_id"`
}

// RefreshToken exchanges a refresh token for a new token pair.
// Fitbit requires HTTP Basic auth of the client credentials and a form body.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.doRequest(req, metrics.OpRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, readError(resp)
	}

	var tokenResp TokenResponse
	if err := decodeJSON(resp.Body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" || tokenResp.RefreshToken == "" {
		return nil, fmt.Errorf("token response missing tokens")
	}

	return &tokenResp, nil
}

// doRequest executes a request and records latency and status metrics
func (c *Client) doRequest(req *http.Request, operation string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)

	metrics.FitbitRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err != nil {
		metrics.FitbitRequestsTotal.WithLabelValues(operation, "error").Inc()
		c.logger.Error("fitbit request failed", "operation", operation, "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	metrics.FitbitRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("fitbit_api_request",
		"operation", operation,
		"status", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	return resp, nil
}

// readError drains the body into an HTTPError
func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
}
