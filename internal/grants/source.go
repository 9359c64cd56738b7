// Package grants holds the source adapter contract, the aggregation façade
// that fans requests out across registered adapters, and the health monitor
// observing them.
package grants

import (
	"context"
	"strings"

	"github.com/daostar/grants-aggregator/internal/model"
)

// Filter carries the recognized query options. Every field is optional;
// the zero value means "no constraint".
type Filter struct {
	Limit     int
	Offset    int
	IsOpen    *bool
	Mechanism string
	Search    string
	Status    string
	PoolID    string
	ProjectID string
}

// Source is the contract every platform integration must satisfy.
//
// Methods return the upstream error so the caller can decide how to degrade;
// the Aggregator translates any error into an empty contribution for that
// source and never propagates it to an HTTP client. Single-item lookups
// return (nil, nil) when the item does not exist.
type Source interface {
	// Name returns the stable system identifier (e.g. "octant").
	Name() string

	// System describes the platform itself. Cheap; used as the health probe.
	System(ctx context.Context) (*model.System, error)

	ListPools(ctx context.Context, f Filter) ([]model.Pool, error)
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListApplications applies the current-round selection heuristic when
	// f.PoolID is empty and the platform has no native notion of "current".
	ListApplications(ctx context.Context, f Filter) ([]model.Application, error)
	GetApplication(ctx context.Context, id string) (*model.Application, error)
}

// HealthChecker is implemented by sources that can probe individual
// upstream endpoints beyond the basic System call.
type HealthChecker interface {
	CheckHealth(ctx context.Context) map[string]bool
}

// Registry holds the configured sources in registration order.
type Registry struct {
	order   []string
	sources map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]Source)}
}

func (r *Registry) Register(src Source) {
	name := strings.ToLower(src.Name())
	if _, exists := r.sources[name]; !exists {
		r.order = append(r.order, name)
	}
	r.sources[name] = src
}

func (r *Registry) Get(name string) (Source, bool) {
	src, ok := r.sources[strings.ToLower(name)]
	return src, ok
}

func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func (r *Registry) All() []Source {
	out := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.sources[name])
	}
	return out
}

// MatchesPool applies the pool-level filter options.
func (f Filter) MatchesPool(p model.Pool) bool {
	if f.IsOpen != nil && p.IsOpen != *f.IsOpen {
		return false
	}
	if f.Mechanism != "" && !strings.EqualFold(p.FundingMechanism, f.Mechanism) {
		return false
	}
	if f.Search != "" {
		s := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), s) &&
			!strings.Contains(strings.ToLower(p.Description), s) {
			return false
		}
	}
	return true
}

// MatchesApplication applies the application-level filter options other
// than PoolID, which drives round selection instead of plain filtering.
func (f Filter) MatchesApplication(app model.Application) bool {
	if f.Status != "" && !strings.EqualFold(app.Status, f.Status) {
		return false
	}
	if f.ProjectID != "" && app.ProjectID != f.ProjectID {
		return false
	}
	if f.Search != "" {
		s := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(app.ProjectName), s) &&
			!strings.Contains(strings.ToLower(app.GrantPoolName), s) {
			return false
		}
	}
	return true
}

// FilterPools returns the pools matching f, preserving order.
func FilterPools(pools []model.Pool, f Filter) []model.Pool {
	out := make([]model.Pool, 0, len(pools))
	for _, p := range pools {
		if f.MatchesPool(p) {
			out = append(out, p)
		}
	}
	return out
}

// FilterApplications returns the applications matching f, preserving order.
func FilterApplications(apps []model.Application, f Filter) []model.Application {
	out := make([]model.Application, 0, len(apps))
	for _, a := range apps {
		if f.MatchesApplication(a) {
			out = append(out, a)
		}
	}
	return out
}
