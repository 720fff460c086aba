package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loykin/graphbench/internal/bench"
)

// Process-wide Prometheus collectors. The operation vecs back the shared
// vendor sets returned by For; per-run sets own their own vecs.
var (
	operations      = newOperationsVec()
	operationErrors = newOperationErrorsVec()
	processRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbench",
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts of supervised processes.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graphbench",
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions of supervised processes.",
		}, []string{"name", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "graphbench",
			Subsystem: "supervisor",
			Name:      "current_state",
			Help:      "Current state of supervised processes (1 = active state, 0 = inactive).",
		}, []string{"name", "state"},
	)
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage",
		Help: "System wide CPU usage in percent.",
	})
	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mem_usage",
		Help: "System wide used memory in KiB.",
	})
)

func newOperationsVec() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_total",
			Help: "Number of executed operations.",
		}, []string{"vendor", "spawn_id", "type", "name"},
	)
}

func newOperationErrorsVec() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_error_total",
			Help: "Number of failed operations, by failure type.",
		}, []string{"vendor", "spawn_id", "type", "name"},
	)
}

func processCollectors() []prometheus.Collector {
	return []prometheus.Collector{processRestarts, stateTransitions, currentStates, cpuUsage, memUsage}
}

// Register registers the process-wide collectors and the shared sets of the
// given vendors (all vendors when none are given) with r. Every registry gets
// the full set; registering twice on the same registry is a no-op.
func Register(r prometheus.Registerer, vendors ...bench.Vendor) error {
	if len(vendors) == 0 {
		vendors = bench.Vendors
	}
	for _, v := range vendors {
		if err := For(v).Register(r); err != nil {
			return err
		}
	}
	return nil
}

// register adds cs to r. A collector already present is kept; a different
// collector with the same descriptors is replaced so a newer run set wins.
func register(r prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		err := r.Register(c)
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			if err != nil {
				return err
			}
			continue
		}
		if are.ExistingCollector == c {
			continue
		}
		r.Unregister(are.ExistingCollector)
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// WriteTextfile writes everything g gathers to path in the text exposition
// format. The file is replaced atomically.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}

// Below are lightweight helpers used by internal packages to record metrics.

// IncOperation counts a successful operation on the shared set of v.
func IncOperation(v bench.Vendor, spawnID, name string) { For(v).IncOperation(spawnID, name) }

// IncOperationError counts a failed operation on the shared set of v.
func IncOperationError(v bench.Vendor, spawnID, typ, name string) {
	For(v).IncOperationError(spawnID, typ, name)
}

// OperationErrors sums operations_error_total of the shared set of v.
func OperationErrors(v bench.Vendor) float64 { return For(v).OperationErrors() }

// Operations sums operations_total of the shared set of v.
func Operations(v bench.Vendor) float64 { return For(v).Operations() }

func IncRestart(name string) {
	processRestarts.WithLabelValues(name).Inc()
}

func RecordStateTransition(name, from, to string) {
	stateTransitions.WithLabelValues(name, from, to).Inc()
}

func SetCurrentState(name, state string, active bool) {
	var value float64 = 0
	if active {
		value = 1
	}
	currentStates.WithLabelValues(name, state).Set(value)
}

// SetSystemUsage publishes host wide cpu percent and used memory in KiB.
func SetSystemUsage(cpuPercent float64, usedKiB uint64) {
	cpuUsage.Set(cpuPercent)
	memUsage.Set(float64(usedKiB))
}
