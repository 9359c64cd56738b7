package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/daostar/grants-aggregator/internal/cache"
	"github.com/daostar/grants-aggregator/internal/grants"
	"github.com/daostar/grants-aggregator/internal/metrics"
	"github.com/daostar/grants-aggregator/internal/model"
	"github.com/daostar/grants-aggregator/internal/price"
)

const (
	octantName = "octant"

	// Epochs are 90-day windows counted from the platform launch.
	octantEpochDays = 90

	octantPoolTTL         = 5 * time.Minute
	octantPoolStaleWindow = 30 * time.Minute
)

// Epoch 0 reference point. Close dates are derived from it because the
// epochs API reports durations, not calendar dates.
var octantEpochZero = time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)

// Octant adapts the Octant backend REST API. Allocation data only exists
// for concluded epochs; the adapter reports an in-progress epoch as a pool
// with an empty application list rather than an error.
type Octant struct {
	client  *http.Client
	baseURL string
	cache   *cache.Cache
	prices  *price.Converter
	logger  *slog.Logger

	// Epochs whose rounds are known to carry allocation data even when the
	// upstream activity flags disagree.
	knownGoodEpochs []int

	chainMu sync.Mutex
	chainID int // 0 until resolved
}

func NewOctant(baseURL string, c *cache.Cache, prices *price.Converter, knownGoodEpochs []int, logger *slog.Logger) *Octant {
	return &Octant{
		client:          &http.Client{Timeout: 30 * time.Second},
		baseURL:         baseURL,
		cache:           c,
		prices:          prices,
		logger:          logger,
		knownGoodEpochs: knownGoodEpochs,
	}
}

func (o *Octant) Name() string { return octantName }

func (o *Octant) System(ctx context.Context) (*model.System, error) {
	var cur struct {
		CurrentEpoch int `json:"currentEpoch"`
	}
	if err := o.getJSON(ctx, "/epochs/current", "epochs", &cur); err != nil {
		return nil, err
	}

	return &model.System{
		Type:          "Foundation",
		ID:            caip10(o.chain(ctx), zeroAddress),
		Name:          "Octant",
		Description:   "A decentralized grants platform using quadratic funding to support public goods",
		GrantPoolsURI: o.baseURL + "/epochs/info",
		Website:       "https://octant.app",
		Extensions: map[string]any{
			"currentEpoch": cur.CurrentEpoch,
			"fetchedAt":    fetchStamp(),
		},
	}, nil
}

func (o *Octant) ListPools(ctx context.Context, f grants.Filter) ([]model.Pool, error) {
	pools, err := o.allPools(ctx)
	if err != nil {
		return nil, err
	}
	return grants.FilterPools(pools, f), nil
}

func (o *Octant) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	if _, ok := octantEpochFromID(id); !ok {
		return nil, nil
	}
	pools, err := o.allPools(ctx)
	if err != nil {
		return nil, err
	}
	for i := range pools {
		if pools[i].ID == id {
			return &pools[i], nil
		}
	}
	return nil, nil
}

func (o *Octant) ListApplications(ctx context.Context, f grants.Filter) ([]model.Application, error) {
	if f.PoolID != "" {
		epoch, ok := octantEpochFromID(f.PoolID)
		if !ok {
			return nil, nil
		}
		apps, err := o.epochApplications(ctx, epoch)
		if err != nil {
			return nil, err
		}
		return grants.FilterApplications(apps, f), nil
	}

	pools, err := o.allPools(ctx)
	if err != nil {
		return nil, err
	}

	for _, p := range grants.CurrentPoolCandidates(pools, o.allowlist(ctx)) {
		epoch, ok := octantEpochFromID(p.ID)
		if !ok {
			continue
		}
		apps, err := o.epochApplications(ctx, epoch)
		if err != nil {
			o.logger.Warn("octant epoch fetch failed", "epoch", epoch, "error", err)
			continue
		}
		if len(apps) > 0 {
			return grants.FilterApplications(apps, f), nil
		}
		// An open round legitimately has no allocations yet; report it
		// empty instead of reaching back into history.
		if p.IsOpen {
			return nil, nil
		}
	}
	return nil, nil
}

func (o *Octant) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	epoch, ok := octantEpochFromID(id)
	if !ok {
		return nil, nil
	}
	apps, err := o.epochApplications(ctx, epoch)
	if err != nil {
		return nil, err
	}
	for i := range apps {
		if apps[i].ID == id {
			return &apps[i], nil
		}
	}
	return nil, nil
}

// CheckHealth probes the endpoints the adapter depends on.
func (o *Octant) CheckHealth(ctx context.Context) map[string]bool {
	out := map[string]bool{}

	var cur struct {
		CurrentEpoch int `json:"currentEpoch"`
	}
	out["epochs"] = o.getJSON(ctx, "/epochs/current", "epochs", &cur) == nil

	var chain struct {
		ChainID int `json:"chainId"`
	}
	out["chain_info"] = o.getJSON(ctx, "/info/chain-info", "chain_info", &chain) == nil

	if cur.CurrentEpoch > 0 {
		var info octantEpochInfo
		out["epoch_info"] = o.getJSON(ctx, fmt.Sprintf("/epochs/info/%d", cur.CurrentEpoch), "epoch_info", &info) == nil
	} else {
		out["epoch_info"] = false
	}
	return out
}

// ── pools ──────────────────────────────────────────────────────────────

type octantEpochInfo struct {
	StakingProceeds       string `json:"stakingProceeds"`
	TotalEffectiveDeposit string `json:"totalEffectiveDeposit"`
	TotalRewards          string `json:"totalRewards"`
	MatchedRewards        string `json:"matchedRewards"`
	PatronsRewards        string `json:"patronsRewards"`
	OperationalCost       string `json:"operationalCost"`
	Leftover              string `json:"leftover"`
	PPF                   string `json:"ppf"`
	CommunityFund         string `json:"communityFund"`
}

func (o *Octant) allPools(ctx context.Context) ([]model.Pool, error) {
	v, err := o.cache.GetWithRefresh(ctx, "octant:pools", octantPoolTTL, octantPoolStaleWindow, func(ctx context.Context) (any, error) {
		return o.fetchPools(ctx)
	})
	if err != nil {
		return nil, err
	}
	pools, _ := v.([]model.Pool)
	return pools, nil
}

func (o *Octant) fetchPools(ctx context.Context) ([]model.Pool, error) {
	var cur struct {
		CurrentEpoch int `json:"currentEpoch"`
	}
	if err := o.getJSON(ctx, "/epochs/current", "epochs", &cur); err != nil {
		return nil, err
	}

	chain := o.chain(ctx)
	pools := make([]model.Pool, 0, cur.CurrentEpoch)

	for epoch := 1; epoch <= cur.CurrentEpoch; epoch++ {
		var info octantEpochInfo
		if err := o.getJSON(ctx, fmt.Sprintf("/epochs/info/%d", epoch), "epoch_info", &info); err != nil {
			o.logger.Warn("octant epoch info unavailable", "epoch", epoch, "error", err)
			continue
		}

		var status struct {
			IsCurrent   bool `json:"isCurrent"`
			IsPending   bool `json:"isPending"`
			IsFinalized bool `json:"isFinalized"`
		}
		if err := o.getJSON(ctx, fmt.Sprintf("/snapshots/status/%d", epoch), "snapshots", &status); err != nil {
			o.logger.Warn("octant epoch status unavailable", "epoch", epoch, "error", err)
			continue
		}

		closeDate := octantEpochZero.AddDate(0, 0, (epoch+1)*octantEpochDays)
		rewardsETH := weiToUnit(info.TotalRewards, 18)

		pools = append(pools, model.Pool{
			Type:             "GrantPool",
			ID:               octantPoolID(chain, epoch),
			Name:             fmt.Sprintf("Octant Epoch %d", epoch),
			Description:      fmt.Sprintf("Quadratic funding round for Octant epoch %d - 90-day funding period supporting Ethereum public goods", epoch),
			FundingMechanism: mechanismName("quadratic"),
			IsOpen:           status.IsCurrent,
			CloseDate:        &closeDate,
			GovernanceURI:    "https://docs.octant.app/how-it-works/mechanism",
			TotalPoolSize:    amountOf(rewardsETH, "ETH"),
			TotalPoolSizeUSD: o.prices.ToUSDAt(ctx, rewardsETH, "ETH", &closeDate),
			Extensions: map[string]any{
				"epoch":                 epoch,
				"isFinalized":           status.IsFinalized,
				"stakingProceeds":       info.StakingProceeds,
				"totalEffectiveDeposit": info.TotalEffectiveDeposit,
				"matchedRewards":        info.MatchedRewards,
				"patronsRewards":        info.PatronsRewards,
				"operationalCost":       info.OperationalCost,
				"leftover":              info.Leftover,
				"ppf":                   info.PPF,
				"communityFund":         info.CommunityFund,
			},
		})
	}
	return pools, nil
}

// ── applications ───────────────────────────────────────────────────────

func (o *Octant) epochApplications(ctx context.Context, epoch int) ([]model.Application, error) {
	key := "octant:apps:" + strconv.Itoa(epoch)
	v, err := o.cache.GetWithRefresh(ctx, key, octantPoolTTL, octantPoolStaleWindow, func(ctx context.Context) (any, error) {
		return o.fetchApplications(ctx, epoch)
	})
	if err != nil {
		return nil, err
	}
	apps, _ := v.([]model.Application)
	return apps, nil
}

func (o *Octant) fetchApplications(ctx context.Context, epoch int) ([]model.Application, error) {
	var allocs struct {
		Allocations []struct {
			Donor   string `json:"donor"`
			Project string `json:"project"`
			Amount  string `json:"amount"`
		} `json:"allocations"`
	}
	if err := o.getJSON(ctx, fmt.Sprintf("/allocations/epoch/%d?includeZeroAllocations=false", epoch), "allocations", &allocs); err != nil {
		return nil, err
	}
	if len(allocs.Allocations) == 0 {
		// Epoch not concluded yet, or nobody allocated.
		return []model.Application{}, nil
	}

	// Rewards and the merkle tree only exist once the epoch is finalized.
	// Their absence downgrades statuses and payouts, not the whole list.
	rewards := map[string]octantReward{}
	var rewardsBody struct {
		Rewards []octantReward `json:"rewards"`
	}
	if err := o.getJSON(ctx, fmt.Sprintf("/rewards/projects/epoch/%d", epoch), "rewards", &rewardsBody); err == nil {
		for _, r := range rewardsBody.Rewards {
			rewards[strings.ToLower(r.Address)] = r
		}
	}

	var merkle struct {
		Root   string `json:"root"`
		Leaves []struct {
			Address string `json:"address"`
			Amount  string `json:"amount"`
		} `json:"leaves"`
	}
	hasMerkle := o.getJSON(ctx, fmt.Sprintf("/rewards/merkle_tree/%d", epoch), "merkle_tree", &merkle) == nil

	names := o.projectNames(ctx, epoch)
	chain := o.chain(ctx)
	poolID := octantPoolID(chain, epoch)
	poolName := fmt.Sprintf("Octant Epoch %d", epoch)
	closeDate := octantEpochZero.AddDate(0, 0, (epoch+1)*octantEpochDays)

	// Sum allocations per project, preserving first-seen order.
	var order []string
	totals := map[string]string{}
	for _, a := range allocs.Allocations {
		addr := strings.ToLower(a.Project)
		if _, seen := totals[addr]; !seen {
			order = append(order, addr)
			totals[addr] = "0"
		}
		totals[addr] = addBaseUnits(totals[addr], a.Amount)
	}

	apps := make([]model.Application, 0, len(order))
	for _, addr := range order {
		allocatedWei := totals[addr]
		reward, hasReward := rewards[addr]

		status := model.StatusPending
		totalWei := allocatedWei
		funds := amountOf(weiToUnit(allocatedWei, 18), "ETH")
		if hasReward {
			totalWei = addBaseUnits(reward.Allocated, reward.Matched)
			switch {
			case totalWei != "0":
				status = model.StatusFunded
			case addBaseUnits(reward.Allocated, "0") != "0":
				status = model.StatusApproved
			}
			funds = append(funds, model.Amount{
				Amount:       weiToUnit(reward.Matched, 18),
				Denomination: "ETH",
				Type:         "matched_funding",
			})
		}

		var payouts []model.Payout
		if hasMerkle {
			for _, leaf := range merkle.Leaves {
				if strings.EqualFold(leaf.Address, addr) {
					payouts = append(payouts, model.Payout{
						Type: "OnchainTransaction",
						Value: map[string]any{
							"amount":     leaf.Amount,
							"merkleRoot": merkle.Root,
							"recipient":  addr,
						},
						Proof: fmt.Sprintf("merkle_epoch_%d_%s", epoch, addr),
					})
					break
				}
			}
		}

		name := names[addr]
		if name == "" {
			name = "Project " + addr[:min(10, len(addr))]
		}

		totalETH := weiToUnit(totalWei, 18)
		apps = append(apps, model.Application{
			Type:             "GrantApplication",
			ID:               poolID + "&proposalId=" + addr,
			GrantPoolID:      poolID,
			GrantPoolName:    poolName,
			ProjectID:        caip10(chain, addr) + "?proposalId=1",
			ProjectName:      name,
			FundsApproved:    funds,
			FundsApprovedUSD: o.prices.ToUSDAt(ctx, totalETH, "ETH", &closeDate),
			PayoutAddress:    &model.PayoutAddress{Type: "AccountAddress", Value: caip10(chain, addr)},
			Status:           status,
			Payouts:          payouts,
		})
	}
	return apps, nil
}

type octantReward struct {
	Address   string `json:"address"`
	Allocated string `json:"allocated"`
	Matched   string `json:"matched"`
}

// projectNames maps project addresses to display names. Best effort: the
// details endpoint failing only costs readable names.
func (o *Octant) projectNames(ctx context.Context, epoch int) map[string]string {
	var details struct {
		ProjectsDetails []struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"projectsDetails"`
	}
	path := fmt.Sprintf("/projects/details?epochs=%d&searchPhrases=", epoch)
	if err := o.getJSON(ctx, path, "project_details", &details); err != nil {
		o.logger.Warn("octant project details unavailable", "epoch", epoch, "error", err)
		return nil
	}

	names := make(map[string]string, len(details.ProjectsDetails))
	for _, d := range details.ProjectsDetails {
		names[strings.ToLower(d.Address)] = d.Name
	}
	return names
}

// ── plumbing ───────────────────────────────────────────────────────────

// chain resolves the backend's chain id, caching only a successful answer.
// A failed lookup falls back to mainnet for the current call and is retried
// on the next one.
func (o *Octant) chain(ctx context.Context) int {
	o.chainMu.Lock()
	defer o.chainMu.Unlock()
	if o.chainID != 0 {
		return o.chainID
	}

	var info struct {
		ChainID int `json:"chainId"`
	}
	if err := o.getJSON(ctx, "/info/chain-info", "chain_info", &info); err != nil || info.ChainID == 0 {
		return 1
	}
	o.chainID = info.ChainID
	return o.chainID
}

func (o *Octant) allowlist(ctx context.Context) map[string]bool {
	if len(o.knownGoodEpochs) == 0 {
		return nil
	}
	chain := o.chain(ctx)
	out := make(map[string]bool, len(o.knownGoodEpochs))
	for _, epoch := range o.knownGoodEpochs {
		out[octantPoolID(chain, epoch)] = true
	}
	return out
}

func (o *Octant) getJSON(ctx context.Context, path, operation string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	metrics.FetchDuration.WithLabelValues(octantName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues(octantName, operation, "error").Inc()
		return fmt.Errorf("octant %s: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.FetchTotal.WithLabelValues(octantName, operation, "error").Inc()
		return fmt.Errorf("octant %s status: %d", operation, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		metrics.FetchTotal.WithLabelValues(octantName, operation, "error").Inc()
		return fmt.Errorf("decode octant %s: %w", operation, err)
	}

	metrics.FetchTotal.WithLabelValues(octantName, operation, "ok").Inc()
	return nil
}

func octantPoolID(chainID, epoch int) string {
	return fmt.Sprintf("%s?contractId=%d", caip10(chainID, zeroAddress), epoch)
}

// octantEpochFromID extracts the epoch from a pool or application id of the
// form eip155:1:0x0…0?contractId=7[&proposalId=0xabc].
func octantEpochFromID(id string) (int, bool) {
	_, rest, found := strings.Cut(id, "?contractId=")
	if !found {
		return 0, false
	}
	rest, _, _ = strings.Cut(rest, "&")
	epoch, err := strconv.Atoi(rest)
	if err != nil || epoch < 1 {
		return 0, false
	}
	return epoch, true
}
