// Package birdeye is a market provider backed by the Birdeye public API.
package birdeye

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"memetrader/internal/domain"
	"memetrader/internal/provider"
)

// Name identifies the provider.
const Name = "birdeye"

// DefaultBaseURL is the Birdeye public API.
const DefaultBaseURL = "https://public-api.birdeye.so"

// windows Birdeye reports price and volume change for.
var windows = map[string]struct{}{"30m": {}, "1h": {}, "2h": {}, "4h": {}, "8h": {}, "24h": {}}

// Config configures the Birdeye client.
type Config struct {
	APIKey     string                 `yaml:"api_key" json:"-"`
	BaseURL    string                 `yaml:"base_url" json:"base_url"`
	Chain      string                 `yaml:"chain" json:"chain"`
	Window     string                 `yaml:"window" json:"window"`           // change window, e.g. "1h"
	SpreadBps  float64                `yaml:"spread_bps" json:"spread_bps"`   // assumed spread, Birdeye quotes none
	RPS        float64                `yaml:"rps" json:"rps"`                 // request rate limit
	Timeout    time.Duration          `yaml:"timeout" json:"timeout"`         // per HTTP request
	MaxRetries int                    `yaml:"max_retries" json:"max_retries"` // on 429 and 5xx
	RetryDelay time.Duration          `yaml:"retry_delay" json:"retry_delay"`
	MaxDelay   time.Duration          `yaml:"max_delay" json:"max_delay"`
	Breaker    provider.BreakerConfig `yaml:"breaker" json:"breaker"`
	Trending   int                    `yaml:"trending" json:"trending"` // universe size
}

// DefaultConfig returns defaults for the public API tier.
func DefaultConfig() Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		Chain:      "solana",
		Window:     "1h",
		SpreadBps:  50,
		RPS:        5,
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Breaker:    provider.DefaultBreakerConfig(),
		Trending:   20,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &domain.ConfigurationError{Field: "BIRDEYE_API_KEY", Reason: "required when MARKET_DATA=birdeye"}
	}
	if _, ok := windows[c.Window]; !ok {
		return &domain.ConfigurationError{Field: "birdeye.window", Reason: fmt.Sprintf("unsupported window %q", c.Window)}
	}
	if c.RPS <= 0 {
		return &domain.ConfigurationError{Field: "birdeye.rps", Reason: "must be positive"}
	}
	if c.SpreadBps < 0 {
		return &domain.ConfigurationError{Field: "birdeye.spread_bps", Reason: "must be non-negative"}
	}
	return nil
}

// Client fetches market snapshots and the trending universe.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a Client after validating cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(math.Ceil(cfg.RPS)))),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = provider.NewBreaker(Name, cfg.Breaker, c.logger)
	return c, nil
}

// Name implements provider.MarketProvider.
func (c *Client) Name() string { return Name }

// envelope is the common Birdeye response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// FetchMarket returns the latest token overview as a market snapshot. The
// API has no history, so at only stamps the snapshot when the upstream
// reports no last trade time.
func (c *Client) FetchMarket(ctx context.Context, candidateID string, at int64) (*domain.MarketSnapshot, error) {
	data, err := provider.Guard(c.breaker, func() (json.RawMessage, error) {
		return c.get(ctx, "/defi/token_overview", url.Values{"address": {candidateID}})
	})
	if err != nil {
		return nil, err
	}
	return c.parseOverview(candidateID, at, data)
}

func (c *Client) parseOverview(candidateID string, at int64, data json.RawMessage) (*domain.MarketSnapshot, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: token overview: %v", domain.ErrMalformedData, err)
	}
	if len(fields) == 0 {
		return nil, provider.ErrAbsent
	}

	num := func(key string) (float64, bool, error) {
		raw, ok := fields[key]
		if !ok || string(raw) == "null" {
			return 0, false, nil
		}
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", domain.ErrMalformedData, key, err)
		}
		return v, true, nil
	}

	price, ok, err := num("price")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no price for %s", provider.ErrAbsent, candidateID)
	}

	snap := &domain.MarketSnapshot{
		CandidateID: candidateID,
		Timestamp:   at,
		Price:       price,
		SpreadBps:   c.cfg.SpreadBps,
	}
	w := c.cfg.Window
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"liquidity", &snap.Liquidity},
		{"v" + w + "USD", &snap.Volume},
		{"priceChange" + w + "Percent", &snap.PriceChangePct},
		{"v" + w + "ChangePercent", &snap.VolumeChangePct},
	} {
		if *f.dst, _, err = num(f.key); err != nil {
			return nil, err
		}
	}
	if ts, ok, err := num("lastTradeUnixTime"); err == nil && ok && ts > 0 {
		snap.Timestamp = int64(ts) * 1000
	}
	return snap, nil
}

// Candidates implements provider.Universe over the trending list, ordered
// by mint address.
func (c *Client) Candidates(ctx context.Context) ([]domain.Candidate, error) {
	q := url.Values{
		"sort_by":   {"rank"},
		"sort_type": {"asc"},
		"offset":    {"0"},
		"limit":     {strconv.Itoa(c.cfg.Trending)},
	}
	data, err := provider.Guard(c.breaker, func() (json.RawMessage, error) {
		return c.get(ctx, "/defi/token_trending", q)
	})
	if err != nil {
		return nil, err
	}

	var body struct {
		Tokens []struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("%w: token trending: %v", domain.ErrMalformedData, err)
	}

	now := time.Now().UnixMilli()
	out := make([]domain.Candidate, 0, len(body.Tokens))
	for _, t := range body.Tokens {
		if t.Address == "" {
			continue
		}
		out = append(out, domain.Candidate{ID: t.Address, Symbol: t.Symbol, FirstSeen: now})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// get performs a GET with rate limiting and retries on 429 and 5xx.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + path + "?" + query.Encode()
	delay := c.cfg.RetryDelay
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, c.cfg.MaxDelay)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("X-API-KEY", c.cfg.APIKey)
		req.Header.Set("x-chain", c.cfg.Chain)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("birdeye %s: status %d", path, resp.StatusCode)
			if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
				delay = min(time.Duration(ra)*time.Second, c.cfg.MaxDelay)
			}
			c.logger.Debug().Str("path", path).Int("status", resp.StatusCode).Int("attempt", attempt).Msg("birdeye retry")
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, provider.ErrAbsent
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("birdeye %s: request rejected with status %d", path, resp.StatusCode)
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: birdeye %s: %v", domain.ErrMalformedData, path, err)
		}
		if !env.Success {
			return nil, fmt.Errorf("%w: birdeye %s: %s", provider.ErrAbsent, path, env.Message)
		}
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil, provider.ErrAbsent
		}
		return env.Data, nil
	}
	return nil, fmt.Errorf("birdeye %s: max retries exceeded: %w", path, lastErr)
}

// Compile-time interface checks.
var (
	_ provider.MarketProvider = (*Client)(nil)
	_ provider.Universe       = (*Client)(nil)
)
