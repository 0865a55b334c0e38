// Package metrics wires optional Prometheus instrumentation for the
// transfer pipeline (pkg/nntp, pkg/upload, pkg/download, pkg/retry).
// Like the teacher's own metrics package, it is opt-in: until InitRegistry
// is called, IsEnabled reports false and every collector constructor
// returns nil, which every call site below is built to treat as a no-op.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide Prometheus registry metrics are
// collected against, registers the standard Go/process collectors, and
// flips IsEnabled to true. Safe to call more than once; later calls are
// no-ops once a registry already exists.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if registry != nil {
		return registry
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry, or nil if InitRegistry
// has not been called.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}
