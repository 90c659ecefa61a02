package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Probe reports the current state of one dependency.
type Probe func(ctx context.Context) Status

// Monitor runs registered probes and keeps their latest statuses
type Monitor struct {
	name    string
	timeout time.Duration

	mu       sync.RWMutex
	probes   map[string]Probe
	statuses map[string]Status
}

// NewMonitor creates a monitor reporting as name. Each probe gets timeout;
// zero means 2 seconds.
func NewMonitor(name string, timeout time.Duration) *Monitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Monitor{
		name:     name,
		timeout:  timeout,
		probes:   make(map[string]Probe),
		statuses: make(map[string]Status),
	}
}

// Register adds or replaces a probe.
func (m *Monitor) Register(component string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[component] = probe
}

// Update records a status without a probe.
func (m *Monitor) Update(component string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = component
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[component] = status
}

// Check runs every probe, records the results and returns the aggregate.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, probe := range m.probes {
		probes[name] = probe
	}
	m.mu.RUnlock()

	for name, probe := range probes {
		probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
		start := time.Now()
		status := probe(probeCtx)
		cancel()

		if status.Status == "" {
			status = NewUnhealthy(name, "probe returned no status")
		}
		status.Latency = time.Since(start).String()
		m.Update(name, status)
	}
	return m.AggregateHealth()
}

// Get retrieves the latest status of a component
func (m *Monitor) Get(component string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[component]
	return status, ok
}

// AggregateHealth aggregates the latest statuses, ordered by component name.
func (m *Monitor) AggregateHealth() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}

// HealthCheck runs the probes and fails only when the process is unhealthy;
// a degraded dependency still reports healthy.
func (m *Monitor) HealthCheck() error {
	return m.Check(context.Background()).Err()
}
