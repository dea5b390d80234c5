// Package metrics exposes Prometheus metrics for the log store, the replica
// layer and peer sync.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus records application metrics. It satisfies replica.Metrics
// through method set compatibility, without importing that package.
type Prometheus struct {
	storeOpDuration *prometheus.HistogramVec
	storeOpTotal    *prometheus.CounterVec
	storeBytesTotal *prometheus.CounterVec
	appendsTotal    *prometheus.CounterVec
	joinsTotal      *prometheus.CounterVec
	savesTotal      *prometheus.CounterVec
	logItems        *prometheus.GaugeVec
	logEpoch        *prometheus.GaugeVec
	pullsTotal      *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg
// (prometheus.DefaultRegisterer when nil). Collectors already registered
// under the same names are reused.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Prometheus{
		storeOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "memexlog",
				Subsystem: "store",
				Name:      "op_duration_seconds",
				Help:      "Duration of content store puts and gets.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"op", "result"},
		),
		storeOpTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "store",
				Name:      "op_total",
				Help:      "Content store operations by result (ok, not_found, error).",
			},
			[]string{"op", "result"},
		),
		storeBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "store",
				Name:      "bytes_total",
				Help:      "Node data bytes moved through the content store.",
			},
			[]string{"op"},
		),
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "log",
				Name:      "appends_total",
				Help:      "Entries appended to a writer's log.",
			},
			[]string{"writer"},
		),
		joinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "log",
				Name:      "joins_total",
				Help:      "Joins performed into a writer's log.",
			},
			[]string{"writer"},
		),
		savesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "log",
				Name:      "saves_total",
				Help:      "Log roots persisted and checkpointed, by result.",
			},
			[]string{"writer", "result"},
		),
		logItems: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "memexlog",
				Subsystem: "log",
				Name:      "items",
				Help:      "Number of items in a writer's log.",
			},
			[]string{"writer"},
		),
		logEpoch: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "memexlog",
				Subsystem: "log",
				Name:      "epoch",
				Help:      "Current epoch (seq) of a writer's log.",
			},
			[]string{"writer"},
		),
		pullsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "memexlog",
				Subsystem: "sync",
				Name:      "pulls_total",
				Help:      "Peer pulls by result (joined, unchanged, not_found, error).",
			},
			[]string{"peer", "result"},
		),
	}

	if err := m.register(reg); err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveStoreOp records one content store call.
func (m *Prometheus) ObserveStoreOp(op, result string, d time.Duration, bytes int) {
	m.storeOpDuration.WithLabelValues(op, result).Observe(d.Seconds())
	m.storeOpTotal.WithLabelValues(op, result).Inc()
	if bytes > 0 {
		m.storeBytesTotal.WithLabelValues(op).Add(float64(bytes))
	}
}

// IncAppend counts one append.
func (m *Prometheus) IncAppend(writer string) {
	m.appendsTotal.WithLabelValues(writer).Inc()
}

// IncJoin counts one join.
func (m *Prometheus) IncJoin(writer string) {
	m.joinsTotal.WithLabelValues(writer).Inc()
}

// IncSave counts one save attempt.
func (m *Prometheus) IncSave(writer, result string) {
	m.savesTotal.WithLabelValues(writer, result).Inc()
}

// SetLogState publishes the size and epoch of a writer's log.
func (m *Prometheus) SetLogState(writer string, items int, epoch uint64) {
	m.logItems.WithLabelValues(writer).Set(float64(items))
	m.logEpoch.WithLabelValues(writer).Set(float64(epoch))
}

// IncPull counts one pull from peer.
func (m *Prometheus) IncPull(peer, result string) {
	m.pullsTotal.WithLabelValues(peer, result).Inc()
}

func (m *Prometheus) register(reg prometheus.Registerer) error {
	if err := registerOrReuse(reg, &m.storeOpDuration); err != nil {
		return fmt.Errorf("register store op duration histogram: %w", err)
	}
	if err := registerOrReuse(reg, &m.storeOpTotal); err != nil {
		return fmt.Errorf("register store op counter: %w", err)
	}
	if err := registerOrReuse(reg, &m.storeBytesTotal); err != nil {
		return fmt.Errorf("register store bytes counter: %w", err)
	}
	if err := registerOrReuse(reg, &m.appendsTotal); err != nil {
		return fmt.Errorf("register appends counter: %w", err)
	}
	if err := registerOrReuse(reg, &m.joinsTotal); err != nil {
		return fmt.Errorf("register joins counter: %w", err)
	}
	if err := registerOrReuse(reg, &m.savesTotal); err != nil {
		return fmt.Errorf("register saves counter: %w", err)
	}
	if err := registerOrReuse(reg, &m.logItems); err != nil {
		return fmt.Errorf("register log items gauge: %w", err)
	}
	if err := registerOrReuse(reg, &m.logEpoch); err != nil {
		return fmt.Errorf("register log epoch gauge: %w", err)
	}
	if err := registerOrReuse(reg, &m.pullsTotal); err != nil {
		return fmt.Errorf("register pulls counter: %w", err)
	}
	return nil
}

// registerOrReuse registers *c, or points *c at the collector already
// registered under the same descriptor.
func registerOrReuse[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("collector already registered with a different type")
		}
		*c = existing
	}
	return nil
}
