package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/apolo-dex/smartlink/core"
	"github.com/apolo-dex/smartlink/ports"
	"github.com/apolo-dex/smartlink/service"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "smartlink_analysis_submissions_total",
	Help: "Analysis submissions by kind and result",
}, []string{"kind", "result"})

// Client submits analysis forms to the analysis backend on behalf of a linked wallet
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokens      ports.TokenSource
	bus         ports.SignalBus
	validate    *validator.Validate
	maxLeverage int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMaxLeverage caps leverage for requests that do not carry their own cap
func WithMaxLeverage(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxLeverage = n
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates an analysis client. Rejected or missing sessions are
// reported on bus so the link dialog comes back.
func NewClient(baseURL string, tokens ports.TokenSource, bus ports.SignalBus, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid analysis url %q", baseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		tokens:      tokens,
		bus:         bus,
		validate:    validator.New(),
		maxLeverage: core.DefaultMaxLeverage,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Validate checks a form before it is submitted
func (c *Client) Validate(req core.AnalysisRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if !req.Kind.NeedsLeverage() {
		return nil
	}

	maxLeverage := req.MaxLeverage
	if maxLeverage <= 0 {
		maxLeverage = c.maxLeverage
	}
	if err := c.validate.Var(req.Leverage, fmt.Sprintf("min=1,max=%d", maxLeverage)); err != nil {
		return fmt.Errorf("%w: leverage must be between 1 and %d", core.ErrInvalidRequest, maxLeverage)
	}
	if !slices.Contains(core.Indicators, req.Indicator) {
		return fmt.Errorf("%w: unknown indicator %q", core.ErrInvalidRequest, req.Indicator)
	}
	if req.Kind == core.AnalysisKelly {
		if req.FreeCollateral == nil || req.FreeCollateral.IsNegative() {
			return fmt.Errorf("%w: free collateral must be zero or more", core.ErrInvalidRequest)
		}
	}
	return nil
}

// Submit validates req and posts it with the cached bearer token
func (c *Client) Submit(ctx context.Context, req core.AnalysisRequest) (core.AnalysisResult, error) {
	kind := string(req.Kind)
	if err := c.Validate(req); err != nil {
		submissionsTotal.WithLabelValues(kind, "invalid").Inc()
		return core.AnalysisResult{}, err
	}

	token, ok := c.tokens.Token(ctx)
	if !ok || c.tokens.Expiry(ctx) <= c.now().Unix() {
		submissionsTotal.WithLabelValues(kind, "unauthorized").Inc()
		c.invalidate(ctx, "no usable session for analysis request")
		return core.AnalysisResult{}, core.ErrUnauthorized
	}

	body, err := json.Marshal(req)
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("failed to marshal analysis request: %w", err)
	}

	endpoint := c.baseURL + "/analysis/" + url.PathEscape(kind)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return core.AnalysisResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		submissionsTotal.WithLabelValues(kind, "error").Inc()
		return core.AnalysisResult{}, fmt.Errorf("analysis %s: %w: %v", kind, core.ErrBackendFailure, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		submissionsTotal.WithLabelValues(kind, "error").Inc()
		return core.AnalysisResult{}, fmt.Errorf("analysis %s: %w: %v", kind, core.ErrBackendFailure, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		submissionsTotal.WithLabelValues(kind, "unauthorized").Inc()
		c.invalidate(ctx, fmt.Sprintf("analysis backend answered %d", resp.StatusCode))
		return core.AnalysisResult{}, core.ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		submissionsTotal.WithLabelValues(kind, "error").Inc()
		return core.AnalysisResult{}, fmt.Errorf("analysis %s: %w: status %d", kind, core.ErrBackendFailure, resp.StatusCode)
	}

	if !json.Valid(raw) {
		submissionsTotal.WithLabelValues(kind, "error").Inc()
		return core.AnalysisResult{}, fmt.Errorf("analysis %s: %w", kind, core.ErrMalformedResponse)
	}

	submissionsTotal.WithLabelValues(kind, "ok").Inc()
	return core.AnalysisResult{
		Kind:   req.Kind,
		Symbol: core.DisplaySymbol(req.Symbol),
		Body:   raw,
	}, nil
}

func (c *Client) invalidate(ctx context.Context, reason string) {
	c.logger.Info("analysis request unauthorized, raising invalidation", "reason", reason)
	if err := service.RaiseInvalidation(ctx, c.bus, reason); err != nil {
		c.logger.Warn("failed to raise invalidation signal", "error", err)
	}
}
