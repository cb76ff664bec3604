// Package auth talks to the backend's auth endpoints and keeps the resulting
// session.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	appLog "taskcal/internal/log"
)

// Error is a non-2xx response from the auth provider.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth: HTTP %d: %s", e.Status, e.Message)
}

type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	User        map[string]any `json:"user,omitempty"`
}

// MessageResponse is the reply of register and the password endpoints.
type MessageResponse struct {
	Message string `json:"message"`
}

type ResetParams struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	NewPassword  string `json:"new_password"`
}

type Client struct {
	base    string
	http    *http.Client
	session *Session
}

// BaseFromAPI strips a trailing /api from the Task API base: auth routes
// live at the backend root.
func BaseFromAPI(apiURL string) string {
	b := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	return strings.TrimSuffix(b, "/api")
}

// NewClient builds an auth client rooted at BaseFromAPI(apiURL).
func NewClient(apiURL string, session *Session, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if session == nil {
		session = &Session{}
	}
	return &Client{
		base:    BaseFromAPI(apiURL),
		http:    &http.Client{Timeout: timeout},
		session: session,
	}
}

func (c *Client) Session() *Session { return c.session }

// Login posts the OAuth2 password form and stores the returned token.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	form := url.Values{
		"username":      {email},
		"password":      {password},
		"grant_type":    {"password"},
		"scope":         {""},
		"client_id":     {""},
		"client_secret": {""},
	}
	var out LoginResponse
	err := c.send(ctx, http.MethodPost, "/auth/login", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()), &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken != "" {
		tok := &oauth2.Token{AccessToken: out.AccessToken, TokenType: out.TokenType}
		if err := c.session.Set(tok); err != nil {
			return &out, err
		}
		appLog.Info("logged in", "email", email)
	}
	return &out, nil
}

// Logout calls the backend and clears the local session even when the call
// fails.
func (c *Client) Logout(ctx context.Context) error {
	callErr := c.postJSON(ctx, "/auth/logout", map[string]any{}, nil)
	if err := c.session.Clear(); err != nil {
		return err
	}
	if callErr != nil {
		appLog.Warn("logout call failed, session cleared anyway", "err", callErr)
	}
	return callErr
}

func (c *Client) Register(ctx context.Context, email, password string) (*MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, "/auth/register", map[string]string{"email": email, "password": password}, &out)
	return &out, err
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, "/auth/forgot-password", map[string]string{"email": email}, &out)
	return &out, err
}

func (c *Client) ResetPassword(ctx context.Context, p ResetParams) (*MessageResponse, error) {
	var out MessageResponse
	err := c.postJSON(ctx, "/auth/reset-password", p, &out)
	return &out, err
}

// WhoAmI returns the current user as reported by /users/me.
func (c *Client) WhoAmI(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	if err := c.send(ctx, http.MethodGet, "/users/me", "application/json", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.send(ctx, http.MethodPost, path, "application/json", bytes.NewReader(raw), out)
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if tok, err := c.session.Token(); err == nil {
		tok.SetAuthHeader(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		appLog.Error("auth request failed", err, "path", path)
		return fmt.Errorf("auth: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &Error{Status: resp.StatusCode, Message: msg}
	}
	// Bodies are optional; an unparsable one leaves out at its zero value.
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		_ = json.Unmarshal(data, out)
	}
	return nil
}
