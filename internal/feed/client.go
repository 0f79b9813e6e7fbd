// Package feed fetches the current item snapshot from the tracker API.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "relaybot/pkg/logx"
)

type Config struct {
	URL       string
	Token     string
	Timeout   time.Duration
	UserAgent string
	Breaker   BreakerConfig
}

// Client is the Item Source. Fetch never returns an error: failures are logged
// and surface as an empty snapshot.
type Client struct {
	cfg         Config
	http        *http.Client
	log         logx.Logger
	maxBodySize int64
	breaker     *breaker
	now         func() time.Time
}

func New(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "relaybot/1.0"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		log:         log,
		maxBodySize: 10 << 20, // 10 MiB
		breaker:     newBreaker(cfg.Breaker),
		now:         time.Now,
	}
}

func (c *Client) Fetch(ctx context.Context) []Item {
	start := c.now()
	if open, until := c.breaker.open(start); open {
		c.log.Debug("feed circuit open; skipping fetch", logx.Time("until", until))
		return nil
	}
	c.log.Info("fetching feed", logx.String("url", c.cfg.URL))

	items, err := c.fetch(ctx)
	if ctx.Err() == nil && c.breaker.record(c.now(), err) {
		c.log.Warn("feed failing repeatedly; pausing fetches", logx.Err(err))
	}
	if err != nil {
		c.log.Error("feed fetch failed", logx.Err(err), logx.Duration("took", time.Since(start)))
		return nil
	}
	c.log.Debug("feed fetched", logx.Int("items", len(items)), logx.Duration("took", time.Since(start)))
	return items
}

func (c *Client) fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet(body))
	}
	if c.log.Enabled(logx.LevelTrace) {
		c.log.Trace("feed response body", logx.String("body", string(body)))
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if r.Data == nil {
		return nil, errors.New("decode response: missing data array")
	}
	return r.Data, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
