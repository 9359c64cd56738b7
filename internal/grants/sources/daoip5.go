package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/metrics"
	"github.com/daostar/grants-aggregator/internal/model"
)

const (
	daoip5TTL         = 15 * time.Minute
	daoip5StaleWindow = 2 * time.Hour
)

// DAOIP5 adapts a static host that already serves canonical JSON: a
// grants_pool.json index and one applications file per pool. The adapter
// validates the records and passes them through, keeping any fields the
// canonical shapes do not model inside Extensions.
type DAOIP5 struct {
	client  *http.Client
	baseURL string
	system  string
	cache   *cache.Cache
	logger  *slog.Logger
}

// NewDAOIP5 serves one system directory (e.g. "stellar") from the static host.
func NewDAOIP5(baseURL, system string, c *cache.Cache, logger *slog.Logger) *DAOIP5 {
	return &DAOIP5{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		system:  system,
		cache:   c,
		logger:  logger,
	}
}

func (d *DAOIP5) Name() string { return d.system }

func (d *DAOIP5) System(ctx context.Context) (*model.System, error) {
	idx, err := d.poolIndex(ctx)
	if err != nil {
		return nil, err
	}
	return &model.System{
		Type:          idx.Type,
		ID:            "daoip5:" + d.system,
		Name:          idx.Name,
		GrantPoolsURI: fmt.Sprintf("%s/%s/grants_pool.json", d.baseURL, d.system),
		Extensions: map[string]any{
			"source":    "static",
			"fetchedAt": fetchStamp(),
		},
	}, nil
}

func (d *DAOIP5) ListPools(ctx context.Context, f grants.Filter) ([]model.Pool, error) {
	idx, err := d.poolIndex(ctx)
	if err != nil {
		return nil, err
	}
	return grants.FilterPools(idx.Pools, f), nil
}

func (d *DAOIP5) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	idx, err := d.poolIndex(ctx)
	if err != nil {
		return nil, err
	}
	for i := range idx.Pools {
		if idx.Pools[i].ID == id {
			return &idx.Pools[i], nil
		}
	}
	return nil, nil
}

func (d *DAOIP5) ListApplications(ctx context.Context, f grants.Filter) ([]model.Application, error) {
	idx, err := d.poolIndex(ctx)
	if err != nil {
		return nil, err
	}

	if f.PoolID != "" {
		for _, p := range idx.Pools {
			if p.ID == f.PoolID {
				apps, err := d.poolApplications(ctx, p)
				if err != nil {
					return nil, err
				}
				return grants.FilterApplications(apps, f), nil
			}
		}
		return nil, nil
	}

	for _, p := range grants.CurrentPoolCandidates(idx.Pools, nil) {
		apps, err := d.poolApplications(ctx, p)
		if err != nil {
			d.logger.Warn("static pool fetch failed", "system", d.system, "pool", p.Name, "error", err)
			continue
		}
		if len(apps) > 0 {
			return grants.FilterApplications(apps, f), nil
		}
		if p.IsOpen {
			return nil, nil
		}
	}
	return nil, nil
}

func (d *DAOIP5) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	idx, err := d.poolIndex(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range idx.Pools {
		apps, err := d.poolApplications(ctx, p)
		if err != nil {
			continue
		}
		for i := range apps {
			if apps[i].ID == id {
				return &apps[i], nil
			}
		}
	}
	return nil, nil
}

func (d *DAOIP5) CheckHealth(ctx context.Context) map[string]bool {
	out := map[string]bool{}
	idx, err := d.poolIndex(ctx)
	out["grants_pool"] = err == nil

	if err == nil && len(idx.Pools) > 0 {
		_, appErr := d.poolApplications(ctx, idx.Pools[0])
		out["applications"] = appErr == nil
	} else {
		out["applications"] = false
	}
	return out
}

// ── static file shapes ─────────────────────────────────────────────────

type daoip5Index struct {
	Name  string
	Type  string
	Pools []model.Pool
}

func (d *DAOIP5) poolIndex(ctx context.Context) (*daoip5Index, error) {
	key := "daoip5:" + d.system + ":pools"
	v, err := d.cache.GetWithRefresh(ctx, key, daoip5TTL, daoip5StaleWindow, func(ctx context.Context) (any, error) {
		return d.fetchPoolIndex(ctx)
	})
	if err != nil {
		return nil, err
	}
	idx, _ := v.(*daoip5Index)
	return idx, nil
}

func (d *DAOIP5) fetchPoolIndex(ctx context.Context) (*daoip5Index, error) {
	var body struct {
		Name       string           `json:"name"`
		Type       string           `json:"type"`
		GrantPools []map[string]any `json:"grantPools"`
	}
	path := fmt.Sprintf("/%s/grants_pool.json", d.system)
	if err := d.getJSON(ctx, path, "grants_pool", &body); err != nil {
		return nil, err
	}

	idx := &daoip5Index{Name: body.Name, Type: body.Type}
	for _, raw := range body.GrantPools {
		p, ok := d.passThroughPool(raw)
		if !ok {
			d.logger.Warn("skipping malformed static pool", "system", d.system)
			continue
		}
		idx.Pools = append(idx.Pools, p)
	}
	return idx, nil
}

func (d *DAOIP5) poolApplications(ctx context.Context, pool model.Pool) ([]model.Application, error) {
	file := applicationsFile(pool)
	key := "daoip5:" + d.system + ":apps:" + file
	v, err := d.cache.GetWithRefresh(ctx, key, daoip5TTL, daoip5StaleWindow, func(ctx context.Context) (any, error) {
		return d.fetchApplications(ctx, pool, file)
	})
	if err != nil {
		return nil, err
	}
	apps, _ := v.([]model.Application)
	return apps, nil
}

func (d *DAOIP5) fetchApplications(ctx context.Context, pool model.Pool, file string) ([]model.Application, error) {
	var body struct {
		GrantPools []struct {
			Name         string           `json:"name"`
			Applications []map[string]any `json:"applications"`
		} `json:"grantPools"`
	}
	path := fmt.Sprintf("/%s/%s", d.system, file)
	if err := d.getJSON(ctx, path, "applications", &body); err != nil {
		return nil, err
	}

	var apps []model.Application
	for _, g := range body.GrantPools {
		for _, raw := range g.Applications {
			a, ok := d.passThroughApplication(raw, pool)
			if !ok {
				d.logger.Warn("skipping malformed static application", "system", d.system, "pool", pool.Name)
				continue
			}
			apps = append(apps, a)
		}
	}
	return apps, nil
}

// applicationsFile resolves the per-pool applications file name. The index
// links it relatively; absent a link the pool name doubles as the file name.
func applicationsFile(pool model.Pool) string {
	if pool.ApplicationsURI != "" {
		uri := pool.ApplicationsURI
		uri = strings.TrimPrefix(uri, "./")
		if i := strings.LastIndex(uri, "/"); i >= 0 {
			uri = uri[i+1:]
		}
		if uri != "" {
			return uri
		}
	}
	slug := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(pool.Name), " ", "_"))
	return slug + ".json"
}

// ── pass-through decoding ──────────────────────────────────────────────

// passThroughPool lifts the known canonical fields out of a raw record and
// parks everything else in Extensions.
func (d *DAOIP5) passThroughPool(raw map[string]any) (model.Pool, bool) {
	p := model.Pool{
		Type:             popString(raw, "type"),
		ID:               popString(raw, "id"),
		Name:             popString(raw, "name"),
		Description:      popString(raw, "description"),
		FundingMechanism: popString(raw, "grantFundingMechanism"),
		ApplicationsURI:  popString(raw, "applicationsURI"),
		GovernanceURI:    popString(raw, "governanceURI"),
		TotalPoolSizeUSD: popString(raw, "totalGrantPoolSizeUSD"),
	}
	if p.ID == "" || p.Name == "" {
		return model.Pool{}, false
	}
	if p.Type == "" {
		p.Type = "GrantPool"
	}

	if open, ok := raw["isOpen"].(bool); ok {
		p.IsOpen = open
		delete(raw, "isOpen")
	}
	if closeDate := popString(raw, "closeDate"); closeDate != "" {
		p.CloseDate = parseISODate(closeDate)
	}
	if sizes, ok := raw["totalGrantPoolSize"].([]any); ok {
		for _, s := range sizes {
			entry, ok := s.(map[string]any)
			if !ok {
				continue
			}
			p.TotalPoolSize = append(p.TotalPoolSize, model.Amount{
				Amount:       stringOf(entry["amount"]),
				Denomination: stringOf(entry["denomination"]),
				Type:         stringOf(entry["type"]),
			})
		}
		delete(raw, "totalGrantPoolSize")
	}
	if len(raw) > 0 {
		p.Extensions = raw
	}
	return p, true
}

func (d *DAOIP5) passThroughApplication(raw map[string]any, pool model.Pool) (model.Application, bool) {
	a := model.Application{
		Type:             popString(raw, "type"),
		ID:               popString(raw, "id"),
		GrantPoolID:      popString(raw, "grantPoolId"),
		GrantPoolName:    popString(raw, "grantPoolName"),
		ProjectID:        popString(raw, "projectId"),
		ProjectName:      popString(raw, "projectName"),
		ContentURI:       popString(raw, "contentURI"),
		FundsAskedUSD:    popString(raw, "fundsAskedInUSD"),
		FundsApprovedUSD: popString(raw, "fundsApprovedInUSD"),
	}
	if a.ID == "" || a.ProjectID == "" {
		return model.Application{}, false
	}
	if a.Type == "" {
		a.Type = "GrantApplication"
	}
	if a.GrantPoolID == "" {
		a.GrantPoolID = pool.ID
	}
	if a.GrantPoolName == "" {
		a.GrantPoolName = pool.Name
	}
	if created := popString(raw, "createdAt"); created != "" {
		a.CreatedAt = parseISODate(created)
	}

	status := strings.ToLower(popString(raw, "status"))
	if !model.ValidStatus(status) {
		// Static archives predate the status enum; presence in a concluded
		// round means the grant went through.
		status = model.StatusApproved
	}
	a.Status = status

	a.FundsAsked = popAmounts(raw, "fundsAsked")
	a.FundsApproved = popAmounts(raw, "fundsApproved")

	if pa, ok := raw["payoutAddress"].(map[string]any); ok {
		a.PayoutAddress = &model.PayoutAddress{
			Type:  stringOf(pa["type"]),
			Value: stringOf(pa["value"]),
		}
		delete(raw, "payoutAddress")
	}
	if socials, ok := raw["socials"].([]any); ok {
		for _, s := range socials {
			entry, ok := s.(map[string]any)
			if !ok {
				continue
			}
			a.Socials = append(a.Socials, model.Social{
				Platform: stringOf(entry["platform"]),
				URL:      stringOf(entry["url"]),
			})
		}
		delete(raw, "socials")
	}
	if len(raw) > 0 {
		a.Extensions = raw
	}
	return a, true
}

func popAmounts(raw map[string]any, key string) []model.Amount {
	list, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	var out []model.Amount
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.Amount{
			Amount:       stringOf(entry["amount"]),
			Denomination: stringOf(entry["denomination"]),
			Type:         stringOf(entry["type"]),
		})
	}
	delete(raw, key)
	return out
}

func popString(m map[string]any, key string) string {
	s := stringOf(m[key])
	if _, ok := m[key]; ok {
		delete(m, key)
	}
	return s
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// Static files occasionally carry bare numbers for amounts.
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return ""
	}
}

func (d *DAOIP5) getJSON(ctx context.Context, path, operation string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.FetchDuration.WithLabelValues(d.system).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(d.system, operation, "error").Inc()
		return fmt.Errorf("static %s %s: %w", d.system, operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues(d.system, operation, "error").Inc()
		return fmt.Errorf("static %s %s status: %d", d.system, operation, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.FetchTotal.WithLabelValues(d.system, operation, "error").Inc()
		return fmt.Errorf("decode static %s %s: %w", d.system, operation, err)
	}

	metrics.FetchTotal.WithLabelValues(d.system, operation, "ok").Inc()
	return nil
}
