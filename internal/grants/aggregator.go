package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daostar/grants-aggregator/internal/model"
)

// ErrUnknownSystem is returned when the system selector names no
// registered source.
var ErrUnknownSystem = errors.New("unknown system")

// Enricher resolves project names to external registry identifiers,
// best-effort. Missing names are simply absent from the result.
type Enricher interface {
	BatchLookup(ctx context.Context, names []string) map[string]string
}

// Aggregator fans requests out to the sources selected by a system filter
// and merges the results. One source's failure never aborts the aggregated
// response: the failing source contributes an empty slice and the error is
// logged.
//
// Limit/offset is applied per source before merging, so a multi-system
// query's pagination window is per-source rather than a single globally
// sorted page. Totals are summed across sources.
type Aggregator struct {
	reg      *Registry
	enricher Enricher
	logger   *slog.Logger
}

func NewAggregator(reg *Registry, enricher Enricher, logger *slog.Logger) *Aggregator {
	return &Aggregator{reg: reg, enricher: enricher, logger: logger}
}

// resolve maps the optional system selector to the participating sources.
func (a *Aggregator) resolve(system string) ([]Source, error) {
	if system == "" {
		return a.reg.All(), nil
	}
	src, ok := a.reg.Get(system)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSystem, system)
	}
	return []Source{src}, nil
}

// ListSystems returns the system descriptors for the selected sources.
func (a *Aggregator) ListSystems(ctx context.Context, system string, f Filter) ([]model.System, int, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, 0, err
	}

	perSource := fanOut(ctx, a.logger, sources, func(ctx context.Context, src Source) ([]model.System, error) {
		sys, err := src.System(ctx)
		if err != nil {
			return nil, err
		}
		if sys == nil {
			return nil, nil
		}
		return []model.System{*sys}, nil
	})

	data, total := mergePages(perSource, f)
	return data, total, nil
}

// GetSystem returns one system descriptor by id, searching the selected
// sources in registration order.
func (a *Aggregator) GetSystem(ctx context.Context, system, id string) (*model.System, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		sys, err := src.System(ctx)
		if err != nil {
			a.logger.Warn("system fetch failed", "source", src.Name(), "error", err)
			continue
		}
		if sys != nil && (sys.ID == id || src.Name() == id) {
			return sys, nil
		}
	}
	return nil, nil
}

// ListPools returns the merged, per-source-paginated pool listing.
func (a *Aggregator) ListPools(ctx context.Context, system string, f Filter) ([]model.Pool, int, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, 0, err
	}

	perSource := fanOut(ctx, a.logger, sources, func(ctx context.Context, src Source) ([]model.Pool, error) {
		return src.ListPools(ctx, f)
	})

	data, total := mergePages(perSource, f)
	return data, total, nil
}

// GetPool returns one pool by id from the selected sources.
func (a *Aggregator) GetPool(ctx context.Context, system, id string) (*model.Pool, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		pool, err := src.GetPool(ctx, id)
		if err != nil {
			a.logger.Warn("pool fetch failed", "source", src.Name(), "id", id, "error", err)
			continue
		}
		if pool != nil {
			return pool, nil
		}
	}
	return nil, nil
}

// ListApplications returns the merged application listing, enriched with
// external registry identifiers when an enricher is configured.
func (a *Aggregator) ListApplications(ctx context.Context, system string, f Filter) ([]model.Application, int, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, 0, err
	}

	perSource := fanOut(ctx, a.logger, sources, func(ctx context.Context, src Source) ([]model.Application, error) {
		return src.ListApplications(ctx, f)
	})

	apps, total := mergePages(perSource, f)
	a.enrich(ctx, apps)
	return apps, total, nil
}

// GetApplication returns one application by id from the selected sources.
func (a *Aggregator) GetApplication(ctx context.Context, system, id string) (*model.Application, error) {
	sources, err := a.resolve(system)
	if err != nil {
		return nil, err
	}
	for _, src := range sources {
		app, err := src.GetApplication(ctx, id)
		if err != nil {
			a.logger.Warn("application fetch failed", "source", src.Name(), "id", id, "error", err)
			continue
		}
		if app != nil {
			apps := []model.Application{*app}
			a.enrich(ctx, apps)
			return &apps[0], nil
		}
	}
	return nil, nil
}

// fanOut issues one concurrent call per source and joins the results in
// registration order. A failing source yields nil and a log line.
func fanOut[T any](ctx context.Context, logger *slog.Logger, sources []Source, call func(context.Context, Source) ([]T, error)) [][]T {
	results := make([][]T, len(sources))
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			items, err := call(ctx, src)
			if err != nil {
				logger.Warn("source fetch failed, contributing empty result",
					"source", src.Name(), "error", err)
				return
			}
			results[i] = items
		}(i, src)
	}
	wg.Wait()
	return results
}

// mergePages applies limit/offset per source, concatenates the slices and
// sums the totals.
func mergePages[T any](perSource [][]T, f Filter) ([]T, int) {
	limit := model.ClampLimit(f.Limit)
	offset := model.ClampOffset(f.Offset)

	var merged []T
	total := 0
	for _, items := range perSource {
		total += len(items)
		merged = append(merged, pageOf(items, limit, offset)...)
	}
	if merged == nil {
		merged = []T{}
	}
	return merged, total
}

// pageOf slices one source's full result set to the requested window.
func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// enrich attaches registry identifiers to applications by project name,
// best-effort; enrichment exhaustion degrades to no annotation.
func (a *Aggregator) enrich(ctx context.Context, apps []model.Application) {
	if a.enricher == nil || len(apps) == 0 {
		return
	}

	seen := make(map[string]bool)
	var names []string
	for _, app := range apps {
		if app.ProjectName != "" && !seen[app.ProjectName] {
			seen[app.ProjectName] = true
			names = append(names, app.ProjectName)
		}
	}
	if len(names) == 0 {
		return
	}

	uids := a.enricher.BatchLookup(ctx, names)
	if len(uids) == 0 {
		return
	}
	for i := range apps {
		uid, ok := uids[apps[i].ProjectName]
		if !ok || uid == "" {
			continue
		}
		if apps[i].Extensions == nil {
			apps[i].Extensions = make(map[string]any)
		}
		apps[i].Extensions["karmaUID"] = uid
	}
}
