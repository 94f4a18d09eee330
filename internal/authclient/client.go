// Package authclient is the Go client used by applications that sign users in
// through the auth service and hand sessions to each other.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authgate/internal/auth"
	"authgate/internal/consul"
)

// DefaultServiceName is the Consul name the auth service registers under
const DefaultServiceName = "auth-service"

// SessionQueryParam carries the handoff id between applications
const SessionQueryParam = "session_id"

// APIError is a non-2xx reply from the auth service
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth service: %d %s", e.Status, e.Detail)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the auth service over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid auth service URL %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConsul resolves a healthy auth service instance through Consul
func NewFromConsul(ctx context.Context, cc *consul.Client, serviceName string, opts ...Option) (*Client, error) {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	baseURL, err := cc.ResolveURL(ctx, serviceName, "http")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", serviceName, err)
	}
	return New(baseURL, opts...)
}

// BaseURL returns the service root this client targets
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register creates an account
func (c *Client) Register(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/register", "", auth.RegisterRequest{Email: email, Password: password}, nil)
}

// Login checks the password; on success the service emails an OTP
func (c *Client) Login(ctx context.Context, email, password string) error {
	return c.do(ctx, http.MethodPost, "/login", "", auth.LoginRequest{Email: email, Password: password}, nil)
}

// VerifyOTP exchanges the emailed code for a bearer token
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (*auth.TokenResponse, error) {
	var out auth.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/verify-otp", "", auth.VerifyOTPRequest{Email: email, OTPCode: code}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyToken returns the email the token was issued to
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	var out auth.VerifyTokenResponse
	if err := c.do(ctx, http.MethodGet, "/verify-token", token, nil, &out); err != nil {
		return "", err
	}
	return out.Email, nil
}

// CreateSession stores a handoff for token and returns its id
func (c *Client) CreateSession(ctx context.Context, token string) (string, error) {
	var out auth.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/create-session", token, nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// GetSession fetches a live handoff by id
func (c *Client) GetSession(ctx context.Context, sessionID string) (*auth.HandoffResponse, error) {
	var out auth.HandoffResponse
	if err := c.do(ctx, http.MethodGet, "/get-session/"+url.PathEscape(sessionID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSession revokes a handoff owned by the token's subject
func (c *Client) DeleteSession(ctx context.Context, token, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), token, nil, nil)
}

// CleanupSessions asks the service to sweep expired handoffs
func (c *Client) CleanupSessions(ctx context.Context) (int, error) {
	var out auth.CleanupResponse
	if err := c.do(ctx, http.MethodDelete, "/cleanup-sessions", "", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleaned, nil
}

// AdoptSession is what a receiving application runs on a handoff link: it
// fetches the handoff and confirms the carried token is still accepted.
func (c *Client) AdoptSession(ctx context.Context, sessionID string) (*auth.HandoffResponse, error) {
	h, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	subject, err := c.VerifyToken(ctx, h.Token)
	if err != nil {
		return nil, err
	}
	if subject != h.Email {
		return nil, fmt.Errorf("handoff email %q does not match token subject %q", h.Email, subject)
	}
	return h, nil
}

// HandoffURL appends the session id to the target application's URL
func HandoffURL(targetBase, sessionID string) (string, error) {
	u, err := url.Parse(targetBase)
	if err != nil {
		return "", fmt.Errorf("invalid target URL %q: %w", targetBase, err)
	}
	q := u.Query()
	q.Set(SessionQueryParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body auth.ErrorResponse
	if err := json.Unmarshal(raw, &body); err != nil || body.Detail == "" {
		body.Detail = strings.TrimSpace(string(raw))
	}
	if body.Detail == "" {
		body.Detail = http.StatusText(resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Detail: body.Detail}
}
