// Package client talks to the portal API on behalf of a signed-in student
// or supervisor. Every reply uses the {success, data, error} envelope and
// every failure is returned as one of the error types in errors.go.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every request when no http.Client is supplied.
const DefaultTimeout = 15 * time.Second

const maxErrorBody = 512

type Client struct {
	baseURL string
	http    *http.Client
	session Session
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client. Its Timeout is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(baseURL string, session Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session the client authenticates with.
func (c *Client) Session() Session {
	return c.session
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// do sends body as JSON and decodes the envelope's data into out, which may
// be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		token, err := c.session.Token(ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return err
			}
			return &AuthError{Message: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.Canceled) {
			return fmt.Errorf("%s %s: %w", method, path, ctxErr)
		}
		return &NetworkError{Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Timeout: isTimeout(err), Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		message := env.Error
		if decodeErr != nil || message == "" {
			message = strings.TrimSpace(truncate(string(raw), maxErrorBody))
		}
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.logger.Debug("api request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("error", message))
		return statusError(resp.StatusCode, message)
	}

	if decodeErr != nil {
		return &ServerError{Status: resp.StatusCode, Message: "malformed response: " + decodeErr.Error()}
	}
	if !env.Success {
		message := env.Error
		if message == "" {
			message = "request was not successful"
		}
		return &ServerError{Status: resp.StatusCode, Message: message}
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &ServerError{Status: resp.StatusCode, Message: "malformed response data: " + err.Error()}
	}
	return nil
}

func statusError(status int, message string) error {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &ValidationError{Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Message: message}
	case status == http.StatusNotFound:
		return &NotFoundError{Message: message}
	case status == http.StatusConflict:
		return &ConflictError{Message: message}
	default:
		return &ServerError{Status: status, Message: message}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// AuthResult is the reply of the login endpoint.
type AuthResult struct {
	Token string `json:"token"`
	User  struct {
		UID   string `json:"uid"`
		Email string `json:"email"`
		Role  string `json:"role"`
	} `json:"user"`
}

// Login exchanges credentials for a session.
func Login(ctx context.Context, baseURL, email, password string, opts ...Option) (StaticSession, error) {
	c := New(baseURL, nil, opts...)

	var result AuthResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &result); err != nil {
		return StaticSession{}, err
	}
	return StaticSession{AccessToken: result.Token, Email: result.User.Email}, nil
}
