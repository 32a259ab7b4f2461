package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"

	"github.com/samueldurantes/chesu-client/internal/domain"
)

// Client talks to the chesu REST backend. Authentication is the token
// cookie issued by login/register; the client replays it on every call.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	tokenMu sync.RWMutex
	token   string

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithToken seeds a previously stored auth token (see authstore).
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current auth token, empty when logged out.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

// Login authenticates and captures the session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (*domain.Player, error) {
	req := credentialsBody{User: credentialsDTO{Email: email, Password: password}}
	var resp userBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/user/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &domain.Player{ID: resp.User.ID, Username: resp.User.Username}, nil
}

// Register creates an account and captures the session cookie.
func (c *Client) Register(ctx context.Context, username, email, password string) (*domain.Player, error) {
	req := credentialsBody{User: credentialsDTO{Username: username, Email: email, Password: password}}
	var resp userBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/user/register", req, &resp, false); err != nil {
		return nil, err
	}
	return &domain.Player{ID: resp.User.ID, Username: resp.User.Username}, nil
}

// Logout clears the server session and drops the local token.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, fasthttp.MethodPost, "/user/logout", nil, nil, false)
	c.SetToken("")
	return err
}

// Me fetches the authenticated viewer's identity.
func (c *Client) Me(ctx context.Context) (*domain.Player, error) {
	var resp userBody
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/user/me", nil, &resp, true); err != nil {
		return nil, err
	}
	return &domain.Player{ID: resp.User.ID, Username: resp.User.Username}, nil
}

// GameDetail is the one-shot authoritative snapshot of a session.
func (c *Client) GameDetail(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var resp gameBody
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/game/"+id.String(), nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Game.toSession()
}

// JoinGame takes the open seat in an existing session.
func (c *Client) JoinGame(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var resp gameBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game/"+id.String(), struct{}{}, &resp, false); err != nil {
		return nil, err
	}
	return resp.Game.toSession()
}

// CreateGame opens a new session and returns its id.
func (c *Client) CreateGame(ctx context.Context) (uuid.UUID, error) {
	var resp gameIDBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game", struct{}{}, &resp, false); err != nil {
		return uuid.Nil, err
	}
	return resp.GameID, nil
}

// QuickPairing joins the pairing queue; the server either matches the
// viewer into a waiting session or opens a fresh one.
func (c *Client) QuickPairing(ctx context.Context) (uuid.UUID, error) {
	var resp gameIDBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game/pairing", struct{}{}, &resp, false); err != nil {
		return uuid.Nil, err
	}
	return resp.GameID, nil
}

// PlayMoveHTTP submits a move over REST. Only the polling transport uses
// this; the websocket path sends PlayMove events instead.
func (c *Client) PlayMoveHTTP(ctx context.Context, id uuid.UUID, san string) (*domain.Session, error) {
	req := newMoveBody{Game: newMoveDTO{NewMove: san}}
	var resp gameBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/game/new_move/"+id.String(), req, &resp, false); err != nil {
		return nil, err
	}
	return resp.Game.toSession()
}

// CreateInvoice requests a deposit invoice for the given amount.
func (c *Client) CreateInvoice(ctx context.Context, amount int) (string, error) {
	var resp invoiceResponseBody
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/invoice/create", amountBody{Amount: amount}, &resp, false); err != nil {
		return "", err
	}
	return resp.PaymentRequest, nil
}

// CheckInvoice returns the viewer's latest pending invoice, if any.
func (c *Client) CheckInvoice(ctx context.Context) (string, error) {
	var resp invoiceBody
	if err := c.doJSON(ctx, fasthttp.MethodGet, "/invoice/check", nil, &resp, true); err != nil {
		return "", err
	}
	return resp.Invoice, nil
}

// Withdraw pays out the viewer's balance to the given invoice.
func (c *Client) Withdraw(ctx context.Context, invoice string) error {
	return c.doJSON(ctx, fasthttp.MethodPost, "/invoice/withdraw", invoiceBody{Invoice: invoice}, nil, false)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if token := c.Token(); token != "" {
		req.Header.SetCookie("token", token)
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		switch {
		case status == fasthttp.StatusUnauthorized:
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrUnauthorized)
		case status == fasthttp.StatusNotFound:
			return fmt.Errorf("%s %s: %w", method, path, domain.ErrNotFound)
		case status < 200 || status >= 300:
			lastErr = fmt.Errorf("chesu api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if cookie := extractTokenCookie(resp); cookie != "" {
			c.SetToken(cookie)
		}
		if out != nil && len(resp.Body()) > 0 {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	return lastErr
}

func extractTokenCookie(resp *fasthttp.Response) string {
	var token string
	resp.Header.VisitAllCookie(func(key, value []byte) {
		if string(key) != "token" {
			return
		}
		ck := fasthttp.AcquireCookie()
		defer fasthttp.ReleaseCookie(ck)
		if err := ck.ParseBytes(value); err == nil {
			token = string(ck.Value())
		}
	})
	return token
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	deadline := time.Now().Add(c.defaultTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

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

func backoffDuration(attempt int) time.Duration {
	d := time.Duration(attempt*attempt) * 100 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func shouldRetryStatus(status int) bool {
	return status == fasthttp.StatusTooManyRequests || status >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
