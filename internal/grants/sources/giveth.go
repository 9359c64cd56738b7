package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/metrics"
	"github.com/daostar/grants-aggregator/internal/model"
)

const (
	givethName = "giveth"

	givethTTL         = 5 * time.Minute
	givethStaleWindow = 30 * time.Minute

	// Upstream page size when walking the full project list.
	givethPageSize = 100
	// Hard stop for the project walk in case totalCount lies.
	givethMaxPages = 50
)

const givethRoundsQuery = `
query GetQFRounds {
  qfArchivedRounds {
    qfRounds {
      id
      name
      slug
      description
      isActive
      beginDate
      endDate
      allocatedFund
      roundUSDCapPerProject
      network
    }
    totalCount
  }
}`

const givethProjectsQuery = `
query GetProjects($limit: Int, $skip: Int) {
  allProjects(limit: $limit, skip: $skip) {
    projects {
      id
      title
      slug
      description
      creationDate
      status { name }
      addresses { address chainType isRecipient }
      socialMedia { type link }
      donations { valueUsd }
      qfRounds { id name isActive endDate }
    }
    totalCount
  }
}`

// Giveth adapts the Giveth GraphQL API. QF (quadratic funding) rounds map
// to pools and each project's round participation maps to an application.
type Giveth struct {
	client  *http.Client
	baseURL string
	siteURL string
	cache   *cache.Cache
	logger  *slog.Logger
}

func NewGiveth(baseURL string, c *cache.Cache, logger *slog.Logger) *Giveth {
	return &Giveth{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: baseURL,
		siteURL: "https://giveth.io",
		cache:   c,
		logger:  logger,
	}
}

func (g *Giveth) Name() string { return givethName }

func (g *Giveth) System(ctx context.Context) (*model.System, error) {
	rounds, err := g.rounds(ctx)
	if err != nil {
		return nil, err
	}
	return &model.System{
		Type:        "DAO",
		ID:          "giveth",
		Name:        "Giveth",
		Description: "A donation platform running recurring quadratic funding rounds for public goods",
		Website:     g.siteURL,
		Extensions: map[string]any{
			"archivedRounds": len(rounds),
			"fetchedAt":      fetchStamp(),
		},
	}, nil
}

func (g *Giveth) ListPools(ctx context.Context, f grants.Filter) ([]model.Pool, error) {
	rounds, err := g.rounds(ctx)
	if err != nil {
		return nil, err
	}
	pools := make([]model.Pool, 0, len(rounds))
	for _, r := range rounds {
		pools = append(pools, g.poolFromRound(r))
	}
	return grants.FilterPools(pools, f), nil
}

func (g *Giveth) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	rounds, err := g.rounds(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range rounds {
		if givethPoolID(r.ID) == id {
			p := g.poolFromRound(r)
			return &p, nil
		}
	}
	return nil, nil
}

func (g *Giveth) ListApplications(ctx context.Context, f grants.Filter) ([]model.Application, error) {
	byPool, err := g.applicationsByPool(ctx)
	if err != nil {
		return nil, err
	}

	if f.PoolID != "" {
		return grants.FilterApplications(byPool[f.PoolID], f), nil
	}

	pools, err := g.ListPools(ctx, grants.Filter{})
	if err != nil {
		return nil, err
	}
	for _, p := range grants.CurrentPoolCandidates(pools, nil) {
		if apps := byPool[p.ID]; len(apps) > 0 {
			return grants.FilterApplications(apps, f), nil
		}
		if p.IsOpen {
			return nil, nil
		}
	}
	return nil, nil
}

func (g *Giveth) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	byPool, err := g.applicationsByPool(ctx)
	if err != nil {
		return nil, err
	}
	poolID, _, found := strings.Cut(id, "?proposalId=")
	if !found {
		return nil, nil
	}
	for _, a := range byPool[poolID] {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

// CheckHealth probes the two queries the adapter issues.
func (g *Giveth) CheckHealth(ctx context.Context) map[string]bool {
	out := map[string]bool{}

	var rounds givethRoundsResponse
	out["qf_rounds"] = g.query(ctx, "rounds", givethRoundsQuery, nil, &rounds) == nil

	var projects givethProjectsResponse
	vars := map[string]any{"limit": 1, "skip": 0}
	out["projects"] = g.query(ctx, "projects", givethProjectsQuery, vars, &projects) == nil

	return out
}

// ── upstream shapes ────────────────────────────────────────────────────

type givethRound struct {
	ID          json.Number `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Description string      `json:"description"`
	IsActive    bool        `json:"isActive"`
	BeginDate   string      `json:"beginDate"`
	EndDate     string      `json:"endDate"`
	Allocated   json.Number `json:"allocatedFund"`
	USDCap      json.Number `json:"roundUSDCapPerProject"`
	Network     json.Number `json:"network"`
}

type givethRoundsResponse struct {
	QFArchivedRounds struct {
		QFRounds   []givethRound `json:"qfRounds"`
		TotalCount int           `json:"totalCount"`
	} `json:"qfArchivedRounds"`
}

type givethProject struct {
	ID           json.Number `json:"id"`
	Title        string      `json:"title"`
	Slug         string      `json:"slug"`
	Description  string      `json:"description"`
	CreationDate string      `json:"creationDate"`
	Status       struct {
		Name string `json:"name"`
	} `json:"status"`
	Addresses []struct {
		Address     string `json:"address"`
		ChainType   string `json:"chainType"`
		IsRecipient bool   `json:"isRecipient"`
	} `json:"addresses"`
	SocialMedia []socialLink `json:"socialMedia"`
	Donations   []struct {
		ValueUSD float64 `json:"valueUsd"`
	} `json:"donations"`
	QFRounds []struct {
		ID       json.Number `json:"id"`
		Name     string      `json:"name"`
		IsActive bool        `json:"isActive"`
		EndDate  string      `json:"endDate"`
	} `json:"qfRounds"`
}

type givethProjectsResponse struct {
	AllProjects struct {
		Projects   []givethProject `json:"projects"`
		TotalCount int             `json:"totalCount"`
	} `json:"allProjects"`
}

// ── transforms ─────────────────────────────────────────────────────────

func (g *Giveth) poolFromRound(r givethRound) model.Pool {
	allocated := r.Allocated.String()
	if allocated == "" {
		allocated = "0"
	}
	usd, err := decimal.NewFromString(allocated)
	usdStr := ""
	if err == nil {
		usdStr = usd.StringFixed(2)
	}

	return model.Pool{
		Type:             "GrantPool",
		ID:               givethPoolID(r.ID),
		Name:             r.Name,
		Description:      r.Description,
		FundingMechanism: mechanismName("qf"),
		IsOpen:           r.IsActive,
		CloseDate:        parseISODate(r.EndDate),
		GovernanceURI:    g.siteURL + "/qf/" + r.Slug,
		TotalPoolSize:    amountOf(allocated, "USD"),
		TotalPoolSizeUSD: usdStr,
		Extensions: map[string]any{
			"network":               r.Network.String(),
			"roundUSDCapPerProject": r.USDCap.String(),
			"beginDate":             r.BeginDate,
		},
	}
}

func (g *Giveth) applicationsByPool(ctx context.Context) (map[string][]model.Application, error) {
	projects, err := g.projects(ctx)
	if err != nil {
		return nil, err
	}

	byPool := map[string][]model.Application{}
	for _, p := range projects {
		if len(p.QFRounds) == 0 {
			continue
		}

		address := ""
		for _, a := range p.Addresses {
			if a.IsRecipient {
				address = a.Address
				break
			}
		}
		projectID := "giveth:project:" + p.ID.String()
		if address != "" {
			projectID = caip10(1, address)
		}

		received := decimal.Zero
		for _, d := range p.Donations {
			received = received.Add(decimal.NewFromFloat(d.ValueUSD))
		}
		receivedUSD := received.StringFixed(2)

		var payoutAddr *model.PayoutAddress
		if address != "" {
			payoutAddr = &model.PayoutAddress{Type: "EthereumAddress", Value: address}
		}

		for _, r := range p.QFRounds {
			poolID := givethPoolID(r.ID)
			status := model.StatusCompleted
			if r.IsActive {
				status = model.StatusApproved
			}

			byPool[poolID] = append(byPool[poolID], model.Application{
				Type:             "GrantApplication",
				ID:               poolID + "?proposalId=" + p.ID.String(),
				GrantPoolID:      poolID,
				GrantPoolName:    r.Name,
				ProjectID:        projectID,
				ProjectName:      p.Title,
				CreatedAt:        parseISODate(p.CreationDate),
				ContentURI:       g.siteURL + "/project/" + p.Slug,
				FundsApproved:    amountOf(receivedUSD, "USD"),
				FundsApprovedUSD: receivedUSD,
				PayoutAddress:    payoutAddr,
				Status:           status,
				Socials:          mapSocials(p.SocialMedia),
			})
		}
	}
	return byPool, nil
}

// ── fetch plumbing ─────────────────────────────────────────────────────

func (g *Giveth) rounds(ctx context.Context) ([]givethRound, error) {
	v, err := g.cache.GetWithRefresh(ctx, "giveth:rounds", givethTTL, givethStaleWindow, func(ctx context.Context) (any, error) {
		var resp givethRoundsResponse
		if err := g.query(ctx, "rounds", givethRoundsQuery, nil, &resp); err != nil {
			return nil, err
		}
		return resp.QFArchivedRounds.QFRounds, nil
	})
	if err != nil {
		return nil, err
	}
	rounds, _ := v.([]givethRound)
	return rounds, nil
}

func (g *Giveth) projects(ctx context.Context) ([]givethProject, error) {
	v, err := g.cache.GetWithRefresh(ctx, "giveth:projects", givethTTL, givethStaleWindow, func(ctx context.Context) (any, error) {
		return g.fetchAllProjects(ctx)
	})
	if err != nil {
		return nil, err
	}
	projects, _ := v.([]givethProject)
	return projects, nil
}

func (g *Giveth) fetchAllProjects(ctx context.Context) ([]givethProject, error) {
	var all []givethProject
	for page := 0; page < givethMaxPages; page++ {
		vars := map[string]any{"limit": givethPageSize, "skip": len(all)}
		var resp givethProjectsResponse
		if err := g.query(ctx, "projects", givethProjectsQuery, vars, &resp); err != nil {
			// Partial data beats none when a later page fails.
			if len(all) > 0 {
				g.logger.Warn("giveth project walk truncated", "fetched", len(all), "error", err)
				return all, nil
			}
			return nil, err
		}
		batch := resp.AllProjects.Projects
		all = append(all, batch...)
		if len(batch) < givethPageSize {
			break
		}
	}
	return all, nil
}

func (g *Giveth) query(ctx context.Context, operation, query string, variables map[string]any, dst any) error {
	if variables == nil {
		variables = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	metrics.FetchDuration.WithLabelValues(givethName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(givethName, operation, "error").Inc()
		return fmt.Errorf("giveth %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues(givethName, operation, "error").Inc()
		return fmt.Errorf("giveth %s status: %d", operation, resp.StatusCode)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		metrics.FetchTotal.WithLabelValues(givethName, operation, "error").Inc()
		return fmt.Errorf("decode giveth %s: %w", operation, err)
	}
	if len(envelope.Errors) > 0 {
		metrics.FetchTotal.WithLabelValues(givethName, operation, "error").Inc()
		return fmt.Errorf("giveth %s: %s", operation, envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		metrics.FetchTotal.WithLabelValues(givethName, operation, "error").Inc()
		return fmt.Errorf("decode giveth %s data: %w", operation, err)
	}

	metrics.FetchTotal.WithLabelValues(givethName, operation, "ok").Inc()
	return nil
}

func givethPoolID(roundID json.Number) string {
	return caip10(1, "0x"+roundID.String())
}
