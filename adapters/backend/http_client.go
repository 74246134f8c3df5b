package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apolo-dex/smartlink/adapters/tokenizer"
	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
)

// Paths are the Backend Session API routes relative to the base URL
type Paths struct {
	LinkStatus      string
	MintSession     string
	ValidateSession string
}

// DefaultPaths returns the routes served by the analysis backend
func DefaultPaths() Paths {
	return Paths{
		LinkStatus:      "/link-status",
		MintSession:     "/mint-session",
		ValidateSession: "/validate-session",
	}
}

// grantResponse is the JSON body returned by link-status and mint-session
type grantResponse struct {
	Token      string `json:"token"`
	TTLSeconds int64  `json:"ttl_seconds"`
	SubjectID  string `json:"subject_id"`
}

// Client implements the SessionBackend interface over HTTP
type Client struct {
	baseURL    string
	paths      Paths
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPaths overrides the endpoint routes
func WithPaths(p Paths) Option {
	return func(c *Client) { c.paths = p }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a backend client for baseURL
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", baseURL)
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		paths:      DefaultPaths(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ ports.SessionBackend = (*Client)(nil)

// LinkStatus asks whether wallet already has a linked identity
func (c *Client) LinkStatus(ctx context.Context, wallet string) (core.Grant, error) {
	endpoint := c.baseURL + c.paths.LinkStatus + "?" + url.Values{"wallet": {wallet}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Grant{}, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.Grant{}, fmt.Errorf("link status: %w: %v", core.ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return core.Grant{}, core.ErrNotLinked
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.Grant{}, statusError("link status", resp)
	}

	return c.decodeGrant(resp.Body)
}

// MintSession exchanges an identity assertion for a session
func (c *Client) MintSession(ctx context.Context, mint core.MintRequest) (core.Grant, error) {
	body, err := json.Marshal(mint)
	if err != nil {
		return core.Grant{}, fmt.Errorf("failed to marshal mint request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.paths.MintSession, bytes.NewReader(body))
	if err != nil {
		return core.Grant{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.Grant{}, fmt.Errorf("mint session: %w: %v", core.ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.Grant{}, statusError("mint session", resp)
	}

	grant, err := c.decodeGrant(resp.Body)
	if err != nil {
		return core.Grant{}, err
	}
	if grant.SubjectID == "" {
		grant.SubjectID = mint.SubjectID
	}
	return grant, nil
}

// ValidateSession confirms the backend still accepts token
func (c *Client) ValidateSession(ctx context.Context, token string) error {
	endpoint := c.baseURL + c.paths.ValidateSession + "/" + url.PathEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate session: %w: %v", core.ErrBackendFailure, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound:
		return core.ErrUnauthorized
	default:
		return fmt.Errorf("validate session: %w: status %d", core.ErrBackendFailure, resp.StatusCode)
	}
}

// maxTTLSeconds bounds ttl_seconds well below time.Duration overflow
const maxTTLSeconds = 10 * 365 * 24 * 60 * 60

func (c *Client) decodeGrant(r io.Reader) (core.Grant, error) {
	var body grantResponse
	if err := json.NewDecoder(io.LimitReader(r, 1<<20)).Decode(&body); err != nil {
		return core.Grant{}, fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)
	}
	if body.Token == "" {
		return core.Grant{}, fmt.Errorf("%w: missing token", core.ErrMalformedResponse)
	}

	if body.TTLSeconds > maxTTLSeconds {
		return core.Grant{}, fmt.Errorf("%w: ttl_seconds %d out of range", core.ErrMalformedResponse, body.TTLSeconds)
	}
	ttl := time.Duration(body.TTLSeconds) * time.Second
	if ttl <= 0 {
		exp, ok := tokenizer.PeekExpiry(body.Token)
		if !ok || !exp.After(c.now()) {
			return core.Grant{}, fmt.Errorf("%w: missing ttl", core.ErrMalformedResponse)
		}
		ttl = exp.Sub(c.now()).Truncate(time.Second)
		c.logger.Debug("backend omitted ttl, using token exp claim", "ttl", ttl)
	}

	return core.Grant{
		Token:     body.Token,
		TTL:       ttl,
		SubjectID: body.SubjectID,
	}, nil
}

func statusError(op string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: %w: status %d: %s", op, core.ErrBackendFailure, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
