package grants

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/daostar/grants-aggregator/internal/model"
)

// fakeSource implements Source for tests.
type fakeSource struct {
	name      string
	pools     []model.Pool
	apps      []model.Application
	systemErr error
	listErr   error
	endpoints map[string]bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) System(ctx context.Context) (*model.System, error) {
	if f.systemErr != nil {
		return nil, f.systemErr
	}
	return &model.System{Type: "System", ID: f.name, Name: f.name}, nil
}

func (f *fakeSource) ListPools(ctx context.Context, fl Filter) ([]model.Pool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return FilterPools(f.pools, fl), nil
}

func (f *fakeSource) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	for _, p := range f.pools {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) ListApplications(ctx context.Context, fl Filter) ([]model.Application, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return FilterApplications(f.apps, fl), nil
}

func (f *fakeSource) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	for _, a := range f.apps {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (f *fakeSource) CheckHealth(ctx context.Context) map[string]bool { return f.endpoints }

func poolsN(prefix string, n int) []model.Pool {
	out := make([]model.Pool, n)
	for i := range out {
		out[i] = model.Pool{Type: "GrantPool", ID: prefix + string(rune('a'+i)), Name: prefix}
	}
	return out
}

func newTestAggregator(sources ...Source) *Aggregator {
	reg := NewRegistry()
	for _, s := range sources {
		reg.Register(s)
	}
	return NewAggregator(reg, nil, slog.Default())
}

func TestListPoolsMergesAllSources(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha", pools: poolsN("alpha-", 3)},
		&fakeSource{name: "beta", pools: poolsN("beta-", 2)},
	)

	pools, total, err := a.ListPools(context.Background(), "", Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(pools) != 5 {
		t.Errorf("len(pools) = %d, want 5", len(pools))
	}
	// Registration order is preserved in the merged output.
	if pools[0].ID != "alpha-a" || pools[3].ID != "beta-a" {
		t.Errorf("merge order wrong: first %q, fourth %q", pools[0].ID, pools[3].ID)
	}
}

func TestListPoolsSingleSystemSelector(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha", pools: poolsN("alpha-", 3)},
		&fakeSource{name: "beta", pools: poolsN("beta-", 2)},
	)

	pools, total, err := a.ListPools(context.Background(), "beta", Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if total != 2 || len(pools) != 2 {
		t.Errorf("got %d pools (total %d), want 2 (2)", len(pools), total)
	}
}

func TestListPoolsUnknownSystem(t *testing.T) {
	a := newTestAggregator(&fakeSource{name: "alpha"})
	_, _, err := a.ListPools(context.Background(), "nope", Filter{})
	if !errors.Is(err, ErrUnknownSystem) {
		t.Errorf("err = %v, want ErrUnknownSystem", err)
	}
}

func TestFailingSourceIsIsolated(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha", listErr: errors.New("upstream unreachable")},
		&fakeSource{name: "beta", pools: poolsN("beta-", 2)},
	)

	pools, total, err := a.ListPools(context.Background(), "", Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListPools with one failing source: %v, want nil", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2 (failing source contributes zero)", total)
	}
	if len(pools) != 2 || pools[0].ID != "beta-a" {
		t.Errorf("pools = %v, want beta's two pools", pools)
	}
}

func TestPerSourcePagination(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha", pools: poolsN("alpha-", 5)},
		&fakeSource{name: "beta", pools: poolsN("beta-", 5)},
	)

	// limit/offset is applied per source: window [1,3) of each.
	pools, total, err := a.ListPools(context.Background(), "", Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if len(pools) != 4 {
		t.Fatalf("len(pools) = %d, want 4 (2 per source)", len(pools))
	}
	if pools[0].ID != "alpha-b" || pools[2].ID != "beta-b" {
		t.Errorf("window wrong: got %q and %q", pools[0].ID, pools[2].ID)
	}
}

func TestOffsetPastEnd(t *testing.T) {
	a := newTestAggregator(&fakeSource{name: "alpha", pools: poolsN("alpha-", 3)})

	pools, total, err := a.ListPools(context.Background(), "", Filter{Limit: 10, Offset: 50})
	if err != nil {
		t.Fatalf("ListPools: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(pools) != 0 {
		t.Errorf("len(pools) = %d, want 0", len(pools))
	}
}

func TestGetPoolSearchesSourcesInOrder(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha", listErr: errors.New("down")},
		&fakeSource{name: "beta", pools: []model.Pool{{ID: "beta-x", Name: "X"}}},
	)

	pool, err := a.GetPool(context.Background(), "", "beta-x")
	if err != nil {
		t.Fatalf("GetPool: %v", err)
	}
	if pool == nil || pool.ID != "beta-x" {
		t.Errorf("pool = %v, want beta-x", pool)
	}

	pool, err = a.GetPool(context.Background(), "", "missing")
	if err != nil || pool != nil {
		t.Errorf("GetPool(missing) = %v, %v; want nil, nil", pool, err)
	}
}

func TestListSystems(t *testing.T) {
	a := newTestAggregator(
		&fakeSource{name: "alpha"},
		&fakeSource{name: "beta", systemErr: errors.New("down")},
	)

	systems, total, err := a.ListSystems(context.Background(), "", Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListSystems: %v", err)
	}
	if total != 1 || len(systems) != 1 || systems[0].ID != "alpha" {
		t.Errorf("systems = %v (total %d), want only alpha", systems, total)
	}
}

func TestStatusFilterAppliedByAdapter(t *testing.T) {
	apps := []model.Application{
		{ID: "1", GrantPoolID: "p", Status: model.StatusFunded},
		{ID: "2", GrantPoolID: "p", Status: model.StatusPending},
		{ID: "3", GrantPoolID: "p", Status: model.StatusFunded},
	}
	a := newTestAggregator(&fakeSource{name: "alpha", apps: apps})

	got, total, err := a.ListApplications(context.Background(), "", Filter{Limit: 10, Status: model.StatusFunded})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if total != 2 || len(got) != 2 {
		t.Errorf("got %d apps (total %d), want 2", len(got), total)
	}
}

// staticEnricher returns a fixed mapping.
type staticEnricher struct{ uids map[string]string }

func (s *staticEnricher) BatchLookup(ctx context.Context, names []string) map[string]string {
	return s.uids
}

func TestEnrichmentAnnotatesApplications(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeSource{name: "alpha", apps: []model.Application{
		{ID: "1", GrantPoolID: "p", ProjectName: "Tooling Guild", Status: model.StatusFunded},
		{ID: "2", GrantPoolID: "p", ProjectName: "Unknown Project", Status: model.StatusFunded},
	}})
	a := NewAggregator(reg, &staticEnricher{uids: map[string]string{"Tooling Guild": "uid-123"}}, slog.Default())

	apps, _, err := a.ListApplications(context.Background(), "", Filter{Limit: 10})
	if err != nil {
		t.Fatalf("ListApplications: %v", err)
	}
	if apps[0].Extensions["karmaUID"] != "uid-123" {
		t.Errorf("Extensions[karmaUID] = %v, want uid-123", apps[0].Extensions["karmaUID"])
	}
	if _, ok := apps[1].Extensions["karmaUID"]; ok {
		t.Error("unmatched project unexpectedly annotated")
	}
}
