package grants

import (
	"testing"
	"time"

	"github.com/daostar/grants-aggregator/internal/model"
)

func datePtr(t time.Time) *time.Time { return &t }

func TestCurrentPoolCandidatesPrefersRecentClosedWithData(t *testing.T) {
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	// Open pool without a close date, an older closed pool with data, and a
	// newer closed pool without data. Walking the candidate order and
	// stopping at the first pool with applications must land on the older
	// closed pool.
	pools := []model.Pool{
		{ID: "open-empty", IsOpen: true},
		{ID: "closed-with-apps", CloseDate: datePtr(d1)},
		{ID: "closed-empty", CloseDate: datePtr(d2)},
	}
	appCount := map[string]int{
		"open-empty":       0,
		"closed-with-apps": 5,
		"closed-empty":     0,
	}

	candidates := CurrentPoolCandidates(pools, nil)
	if len(candidates) == 0 {
		t.Fatal("no candidates")
	}
	if candidates[0].ID != "closed-empty" {
		t.Errorf("preferred = %q, want most recently closed %q", candidates[0].ID, "closed-empty")
	}

	var selected string
	for _, p := range candidates {
		if appCount[p.ID] > 0 {
			selected = p.ID
			break
		}
	}
	if selected != "closed-with-apps" {
		t.Errorf("selected = %q, want %q", selected, "closed-with-apps")
	}
}

func TestCurrentPoolCandidatesOpenPreferredStopsScan(t *testing.T) {
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	// The open pool has the latest close date, so it is preferred; even when
	// empty it must not be replaced by the older closed pool.
	pools := []model.Pool{
		{ID: "closed-old", CloseDate: datePtr(d1)},
		{ID: "open-current", IsOpen: true, CloseDate: datePtr(future)},
	}

	candidates := CurrentPoolCandidates(pools, nil)
	if len(candidates) != 1 {
		t.Fatalf("len(candidates) = %d, want 1 (no fallback past an open preferred pool)", len(candidates))
	}
	if candidates[0].ID != "open-current" {
		t.Errorf("preferred = %q, want %q", candidates[0].ID, "open-current")
	}
}

func TestCurrentPoolCandidatesAllowlistFirst(t *testing.T) {
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	d3 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	pools := []model.Pool{
		{ID: "a", CloseDate: datePtr(d1)},
		{ID: "b", CloseDate: datePtr(d2)},
		{ID: "c", CloseDate: datePtr(d3)},
	}

	candidates := CurrentPoolCandidates(pools, map[string]bool{"a": true})
	want := []string{"c", "a", "b"}
	if len(candidates) != len(want) {
		t.Fatalf("len(candidates) = %d, want %d", len(candidates), len(want))
	}
	for i, id := range want {
		if candidates[i].ID != id {
			t.Errorf("candidates[%d] = %q, want %q", i, candidates[i].ID, id)
		}
	}
}

func TestCurrentPoolCandidatesEmpty(t *testing.T) {
	if got := CurrentPoolCandidates(nil, nil); got != nil {
		t.Errorf("CurrentPoolCandidates(nil) = %v, want nil", got)
	}
}

func TestCurrentPoolCandidatesNilDatesSortOldest(t *testing.T) {
	d := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pools := []model.Pool{
		{ID: "no-date"},
		{ID: "dated", CloseDate: datePtr(d)},
	}
	candidates := CurrentPoolCandidates(pools, nil)
	if candidates[0].ID != "dated" {
		t.Errorf("preferred = %q, want %q", candidates[0].ID, "dated")
	}
}
