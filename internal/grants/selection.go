package grants

import (
	"sort"

	"github.com/daostar/grants-aggregator/internal/model"
)

// CurrentPoolCandidates returns pools in the order the current-round
// heuristic should try them when a caller supplies no pool filter. Adapters
// walk the returned slice and stop at the first pool that yields
// applications.
//
// The preferred pool is the one with the latest close date (pools without a
// close date sort oldest). An open preferred pool is the only candidate:
// an open round with no applications yet is reported as empty rather than
// silently replaced by an older closed round. A closed preferred pool falls
// back through the allow-listed pools, then the remaining open pools, then
// the remaining closed pools, most recent first.
func CurrentPoolCandidates(pools []model.Pool, allowlist map[string]bool) []model.Pool {
	if len(pools) == 0 {
		return nil
	}

	sorted := make([]model.Pool, len(pools))
	copy(sorted, pools)
	sort.SliceStable(sorted, func(i, j int) bool {
		return closeAfter(sorted[i], sorted[j])
	})

	preferred := sorted[0]
	if preferred.IsOpen {
		return []model.Pool{preferred}
	}

	candidates := []model.Pool{preferred}
	seen := map[string]bool{preferred.ID: true}

	add := func(p model.Pool) {
		if !seen[p.ID] {
			seen[p.ID] = true
			candidates = append(candidates, p)
		}
	}

	// Known-good rounds work around upstreams whose round-activity flags
	// are unreliable; consult them before the generic scan.
	for _, p := range sorted {
		if allowlist[p.ID] {
			add(p)
		}
	}
	for _, p := range sorted {
		if p.IsOpen {
			add(p)
		}
	}
	for _, p := range sorted {
		add(p)
	}
	return candidates
}

// closeAfter orders pools by close date descending, nil dates last.
func closeAfter(a, b model.Pool) bool {
	switch {
	case a.CloseDate == nil:
		return false
	case b.CloseDate == nil:
		return true
	default:
		return a.CloseDate.After(*b.CloseDate)
	}
}
