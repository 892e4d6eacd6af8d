package portal

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/rerasync/internal/logger"
)

const sessionPath = "/home?language=en"

// ClientConfig holds configuration for the portal client.
type ClientConfig struct {
	BaseURL       string
	UserAgent     string
	SessionCookie string
	Timeout       time.Duration
	RefreshMargin time.Duration
	Retry         *RetryPolicy
}

// Client performs portal calls through the session manager and the retry
// policy. The session token never leaves this package.
type Client struct {
	http    *resty.Client
	session *SessionManager
	retry   *RetryPolicy
	cookie  string
	logger  *logger.Logger
}

// NewClient creates a portal client.
func NewClient(cfg *ClientConfig, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cookie := cfg.SessionCookie
	if cookie == "" {
		cookie = "JSESSIONID"
	}
	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = time.Minute
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryPolicy()
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")

	// The session cookie is attached explicitly from the SessionManager,
	// so the client-side jar is disabled.
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetCookieJar(nil).
		SetHeaders(map[string]string{
			"Accept":     "*/*",
			"Origin":     baseURL,
			"Referer":    baseURL,
			"User-Agent": cfg.UserAgent,
		})

	c := &Client{
		http:   httpClient,
		retry:  retry,
		cookie: cookie,
		logger: log,
	}
	c.session = NewSessionManager(c.renewSession, margin, log)
	return c
}

// Post submits a form to endpoint and returns the response body.
func (c *Client) Post(ctx context.Context, endpoint string, form map[string]string) (string, error) {
	path := "/" + strings.TrimPrefix(endpoint, "/")
	op := "POST " + path

	var body string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		c.session.EnsureValidSession(ctx)
		resp, err := c.request(ctx).SetFormData(form).Post(path)
		body, err = c.handle(ctx, op, resp, err)
		return err
	})
	return body, err
}

// Get fetches path and returns the response body.
func (c *Client) Get(ctx context.Context, path string) (string, error) {
	path = "/" + strings.TrimPrefix(path, "/")
	op := "GET " + path

	var body string
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		c.session.EnsureValidSession(ctx)
		resp, err := c.request(ctx).Get(path)
		body, err = c.handle(ctx, op, resp, err)
		return err
	})
	return body, err
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if tok := c.session.Token(); tok != nil && tok.Value != "" {
		req.SetCookie(&http.Cookie{Name: tok.Name, Value: tok.Value})
	}
	return req
}

func (c *Client) handle(ctx context.Context, op string, resp *resty.Response, err error) (string, error) {
	if err != nil {
		return "", classifyTransport(ctx, op, err, isChunked(resp))
	}
	if resp.IsError() {
		return "", &StatusError{Op: op, Code: resp.StatusCode()}
	}
	return resp.String(), nil
}

// isChunked reports whether the response headers announced a chunked body.
func isChunked(resp *resty.Response) bool {
	if resp == nil || resp.RawResponse == nil {
		return false
	}
	for _, te := range resp.RawResponse.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return true
		}
	}
	return false
}

// renewSession loads the landing page and captures the session cookie.
func (c *Client) renewSession(ctx context.Context) (*SessionToken, error) {
	resp, err := c.http.R().SetContext(ctx).Get(sessionPath)
	if err != nil {
		return nil, classifyTransport(ctx, "GET "+sessionPath, err, isChunked(resp))
	}
	if resp.IsError() {
		return nil, &StatusError{Op: "GET " + sessionPath, Code: resp.StatusCode()}
	}

	for _, ck := range resp.Cookies() {
		if ck.Name != c.cookie {
			continue
		}
		tok := &SessionToken{Name: ck.Name, Value: ck.Value}
		switch {
		case ck.MaxAge > 0:
			tok.ExpiresAt = time.Now().Add(time.Duration(ck.MaxAge) * time.Second)
		case !ck.Expires.IsZero():
			tok.ExpiresAt = ck.Expires
		}
		return tok, nil
	}
	return nil, fmt.Errorf("portal did not set %s cookie", c.cookie)
}
