package grants

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/daostar/grants-aggregator/internal/metrics"
)

// Status values for adapters and the system as a whole.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusDown     = "down"
	StatusUnknown  = "unknown"
)

// AdapterHealth is the probe result for one source.
type AdapterHealth struct {
	Status         string          `json:"status"`
	ResponseTimeMS int64           `json:"responseTimeMs,omitempty"`
	Endpoints      map[string]bool `json:"endpoints,omitempty"`
	Error          string          `json:"error,omitempty"`
	CheckedAt      time.Time       `json:"checkedAt"`
}

// SystemHealth is the reduced system-wide status.
type SystemHealth struct {
	Status    string                   `json:"status"`
	Storage   string                   `json:"storage"`
	Adapters  map[string]AdapterHealth `json:"adapters"`
	CheckedAt time.Time                `json:"checkedAt"`
}

// Pinger is the storage connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthMonitor probes every registered source plus the storage dependency
// and caches the reduced result briefly to bound probe cost.
type HealthMonitor struct {
	reg    *Registry
	store  Pinger // nil when no storage dependency is configured
	logger *slog.Logger
	ttl    time.Duration

	mu       sync.Mutex
	cached   *SystemHealth
	cachedAt time.Time
	now      func() time.Time
}

func NewHealthMonitor(reg *Registry, store Pinger, logger *slog.Logger, ttl time.Duration) *HealthMonitor {
	return &HealthMonitor{
		reg:    reg,
		store:  store,
		logger: logger,
		ttl:    ttl,
		now:    time.Now,
	}
}

// SystemHealth returns the cached status when it is younger than the TTL
// and force is false; otherwise it probes everything concurrently.
func (m *HealthMonitor) SystemHealth(ctx context.Context, force bool) *SystemHealth {
	m.mu.Lock()
	if !force && m.cached != nil && m.now().Sub(m.cachedAt) < m.ttl {
		cached := m.cached
		m.mu.Unlock()
		return cached
	}
	m.mu.Unlock()

	health := m.probeAll(ctx)

	m.mu.Lock()
	m.cached = health
	m.cachedAt = m.now()
	m.mu.Unlock()

	metrics.HealthChecksTotal.WithLabelValues(health.Status).Inc()
	return health
}

// AdapterHealth probes a single source by name.
func (m *HealthMonitor) AdapterHealth(ctx context.Context, name string) (*AdapterHealth, bool) {
	src, ok := m.reg.Get(name)
	if !ok {
		return nil, false
	}
	h := m.probeSource(ctx, src)
	return &h, true
}

// QuickHealth returns the last computed status without probing, or an
// unknown status if none has been computed yet.
func (m *HealthMonitor) QuickHealth() *SystemHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != nil {
		return m.cached
	}
	return &SystemHealth{
		Status:    StatusUnknown,
		Storage:   StatusUnknown,
		Adapters:  map[string]AdapterHealth{},
		CheckedAt: m.now(),
	}
}

func (m *HealthMonitor) probeAll(ctx context.Context) *SystemHealth {
	sources := m.reg.All()
	results := make([]AdapterHealth, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results[i] = m.probeSource(ctx, src)
		}(i, src)
	}

	storage := StatusHealthy
	if m.store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.store.Ping(ctx); err != nil {
				m.logger.Error("storage probe failed", "error", err)
				storage = StatusDown
			}
		}()
	}
	wg.Wait()

	adapters := make(map[string]AdapterHealth, len(sources))
	for i, src := range sources {
		adapters[src.Name()] = results[i]
	}

	return &SystemHealth{
		Status:    reduceHealth(storage, results),
		Storage:   storage,
		Adapters:  adapters,
		CheckedAt: m.now(),
	}
}

func (m *HealthMonitor) probeSource(ctx context.Context, src Source) AdapterHealth {
	start := m.now()
	_, err := src.System(ctx)
	elapsed := m.now().Sub(start)

	h := AdapterHealth{
		Status:         StatusHealthy,
		ResponseTimeMS: elapsed.Milliseconds(),
		CheckedAt:      m.now(),
	}
	if err != nil {
		m.logger.Warn("adapter probe failed", "adapter", src.Name(), "error", err)
		h.Status = StatusDown
		h.Error = err.Error()
		metrics.AdapterHealthy.WithLabelValues(src.Name()).Set(0)
		return h
	}

	if hc, ok := src.(HealthChecker); ok {
		h.Endpoints = hc.CheckHealth(ctx)
		for _, up := range h.Endpoints {
			if !up {
				h.Status = StatusDegraded
				break
			}
		}
	}

	switch h.Status {
	case StatusHealthy:
		metrics.AdapterHealthy.WithLabelValues(src.Name()).Set(1)
	case StatusDegraded:
		metrics.AdapterHealthy.WithLabelValues(src.Name()).Set(0.5)
	}
	return h
}

// reduceHealth folds the storage probe and per-adapter statuses into the
// overall status: down when storage is down or every adapter is down,
// degraded when any adapter is not healthy, healthy otherwise.
func reduceHealth(storage string, adapters []AdapterHealth) string {
	allDown := len(adapters) > 0
	anyImpaired := false
	for _, a := range adapters {
		if a.Status != StatusDown {
			allDown = false
		}
		if a.Status != StatusHealthy {
			anyImpaired = true
		}
	}
	switch {
	case allDown || storage == StatusDown:
		return StatusDown
	case anyImpaired:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}
