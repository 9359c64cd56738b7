// Package enrich resolves project names to Karma GAP registry identifiers.
// The lookup is best-effort: a circuit breaker guards the upstream and an
// open breaker degrades every lookup to "not found".
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/daostar/grants-aggregator/internal/breaker"
	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/metrics"
)

const (
	lookupTTL = 6 * time.Hour

	// Batches are chunked with a pause between chunks to stay under the
	// registry's rate limits.
	chunkSize  = 5
	chunkDelay = 200 * time.Millisecond
)

type Client struct {
	client  *http.Client
	baseURL string
	brk     *breaker.Breaker
	cache   *cache.Cache
	logger  *slog.Logger

	// Overridable for tests.
	delay time.Duration
}

func NewClient(baseURL string, brk *breaker.Breaker, c *cache.Cache, logger *slog.Logger) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		brk:     brk,
		cache:   c,
		logger:  logger,
		delay:   chunkDelay,
	}
}

// Lookup resolves one project name to a registry UID, or "" when the
// project is unknown, the upstream fails, or the breaker is open.
func (c *Client) Lookup(ctx context.Context, name string) string {
	if name == "" {
		return ""
	}

	key := "karma:" + strings.ToLower(name)
	if v, ok := c.cache.Get(key); ok {
		uid, _ := v.(string)
		return uid
	}

	if !c.brk.Allow() {
		metrics.BreakerOpen.Set(1)
		metrics.EnrichmentLookups.WithLabelValues("short_circuit").Inc()
		return ""
	}
	metrics.BreakerOpen.Set(0)

	uid, err := c.search(ctx, name)
	if err != nil {
		c.brk.Failure()
		if c.brk.Open() {
			metrics.BreakerOpen.Set(1)
		}
		metrics.EnrichmentLookups.WithLabelValues("error").Inc()
		c.logger.Warn("karma lookup failed", "project", name, "error", err)
		return ""
	}
	c.brk.Success()

	// Negative results are cached too; re-querying a missing project on
	// every request would burn the rate budget.
	c.cache.Set(key, uid, lookupTTL)
	if uid == "" {
		metrics.EnrichmentLookups.WithLabelValues("miss").Inc()
	} else {
		metrics.EnrichmentLookups.WithLabelValues("hit").Inc()
	}
	return uid
}

// BatchLookup resolves many names in small chunks. Individual failures
// degrade to absent entries without aborting sibling lookups.
func (c *Client) BatchLookup(ctx context.Context, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for i, name := range names {
		if i > 0 && i%chunkSize == 0 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(c.delay):
			}
		}
		if uid := c.Lookup(ctx, name); uid != "" {
			out[name] = uid
		}
	}
	return out
}

type searchResponse []struct {
	UID     string `json:"uid"`
	Details struct {
		Title string `json:"title"`
	} `json:"details"`
}

func (c *Client) search(ctx context.Context, name string) (string, error) {
	u := fmt.Sprintf("%s/search?q=%s", c.baseURL, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("karma API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("karma API status: %d", resp.StatusCode)
	}

	var results searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("decode karma: %w", err)
	}

	for _, r := range results {
		if strings.EqualFold(r.Details.Title, name) {
			return r.UID, nil
		}
	}
	return "", nil
}
