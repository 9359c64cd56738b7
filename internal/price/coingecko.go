// Package price converts native-currency amounts into best-effort USD
// figures using CoinGecko spot rates. Rates are cached with a stale window
// so a flaky or rate-limited upstream never blocks a response.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/metrics"
)

const (
	rateTTL         = 5 * time.Minute
	rateStaleWindow = 1 * time.Hour

	// Historical rates never change once the day has passed.
	historyTTL         = 24 * time.Hour
	historyStaleWindow = 7 * 24 * time.Hour
)

// coinIDs maps the denominations the adapters emit onto CoinGecko coin ids.
var coinIDs = map[string]string{
	"ETH":  "ethereum",
	"WETH": "weth",
	"GLM":  "golem",
	"DAI":  "dai",
	"USDC": "usd-coin",
	"USDT": "tether",
	"OP":   "optimism",
	"ARB":  "arbitrum",
	"XLM":  "stellar",
}

type Converter struct {
	client  *http.Client
	baseURL string
	apiKey  string
	cache   *cache.Cache
	logger  *slog.Logger
}

func NewConverter(baseURL, apiKey string, c *cache.Cache, logger *slog.Logger) *Converter {
	return &Converter{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
		cache:   c,
		logger:  logger,
	}
}

// ToUSD converts a whole-unit amount string in the given denomination to a
// USD string with two decimal places. Stablecoin-pegged USD amounts pass
// through; unknown denominations or unavailable rates return "".
func (c *Converter) ToUSD(ctx context.Context, amount, denomination string) string {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return ""
	}

	denom := strings.ToUpper(denomination)
	if denom == "USD" {
		return d.StringFixed(2)
	}

	rate, ok := c.rate(ctx, denom)
	if !ok {
		return ""
	}
	return d.Mul(rate).StringFixed(2)
}

// ToUSDAt converts like ToUSD but prices at a past date when one is given.
// Missing or future dates, and failed historical lookups, fall back to the
// current rate.
func (c *Converter) ToUSDAt(ctx context.Context, amount, denomination string, at *time.Time) string {
	if at == nil || at.After(time.Now()) {
		return c.ToUSD(ctx, amount, denomination)
	}

	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return ""
	}

	denom := strings.ToUpper(denomination)
	if denom == "USD" {
		return d.StringFixed(2)
	}

	rate, ok := c.historicalRate(ctx, denom, *at)
	if !ok {
		return c.ToUSD(ctx, amount, denomination)
	}
	return d.Mul(rate).StringFixed(2)
}

func (c *Converter) rate(ctx context.Context, denom string) (decimal.Decimal, bool) {
	coinID, ok := coinIDs[denom]
	if !ok {
		return decimal.Zero, false
	}

	key := "price:" + coinID
	v, err := c.cache.GetWithRefresh(ctx, key, rateTTL, rateStaleWindow, func(ctx context.Context) (any, error) {
		return c.fetchRate(ctx, coinID)
	})
	if err != nil {
		c.logger.Warn("usd rate unavailable", "coin", coinID, "error", err)
		return decimal.Zero, false
	}
	rate, ok := v.(decimal.Decimal)
	return rate, ok
}

func (c *Converter) historicalRate(ctx context.Context, denom string, at time.Time) (decimal.Decimal, bool) {
	coinID, ok := coinIDs[denom]
	if !ok {
		return decimal.Zero, false
	}

	day := at.UTC().Format("02-01-2006")
	key := "price:" + coinID + ":" + day
	v, err := c.cache.GetWithRefresh(ctx, key, historyTTL, historyStaleWindow, func(ctx context.Context) (any, error) {
		return c.fetchHistoricalRate(ctx, coinID, day)
	})
	if err != nil {
		c.logger.Warn("historical usd rate unavailable", "coin", coinID, "date", day, "error", err)
		return decimal.Zero, false
	}
	rate, ok := v.(decimal.Decimal)
	return rate, ok
}

func (c *Converter) fetchHistoricalRate(ctx context.Context, coinID, day string) (any, error) {
	url := fmt.Sprintf("%s/coins/%s/history?date=%s", c.baseURL, coinID, day)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.FetchDuration.WithLabelValues("coingecko").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues("coingecko", "history", "error").Inc()
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues("coingecko", "history", "error").Inc()
		return nil, fmt.Errorf("coingecko status: %d", resp.StatusCode)
	}

	var body struct {
		MarketData struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.FetchTotal.WithLabelValues("coingecko", "history", "error").Inc()
		return nil, fmt.Errorf("decode coingecko: %w", err)
	}

	usd := body.MarketData.CurrentPrice["usd"]
	if usd <= 0 {
		metrics.FetchTotal.WithLabelValues("coingecko", "history", "error").Inc()
		return nil, fmt.Errorf("no historical usd rate for %s on %s", coinID, day)
	}

	metrics.FetchTotal.WithLabelValues("coingecko", "history", "ok").Inc()
	return decimal.NewFromFloat(usd), nil
}

func (c *Converter) fetchRate(ctx context.Context, coinID string) (any, error) {
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, coinID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	metrics.FetchDuration.WithLabelValues("coingecko").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues("coingecko", "price", "error").Inc()
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues("coingecko", "price", "error").Inc()
		return nil, fmt.Errorf("coingecko status: %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.FetchTotal.WithLabelValues("coingecko", "price", "error").Inc()
		return nil, fmt.Errorf("decode coingecko: %w", err)
	}

	entry, ok := body[coinID]
	if !ok || entry.USD <= 0 {
		metrics.FetchTotal.WithLabelValues("coingecko", "price", "error").Inc()
		return nil, fmt.Errorf("no usd rate for %s", coinID)
	}

	metrics.FetchTotal.WithLabelValues("coingecko", "price", "ok").Inc()
	return decimal.NewFromFloat(entry.USD), nil
}
