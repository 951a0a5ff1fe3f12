// Package metrics exports unit lifecycle metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wilhg/persistor/pkg/persistence"
)

const namespace = "persistor"

// Collector implements persistence.Observer.
type Collector struct {
	recoveries       *prometheus.CounterVec
	recoveryDuration prometheus.Histogram
	replayed         prometheus.Counter
	persisted        prometheus.Counter
	persistFailures  prometheus.Counter
	unhandled        *prometheus.CounterVec
	stops            *prometheus.CounterVec
}

var _ persistence.Observer = (*Collector)(nil)

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "total",
			Help:      "Recovery attempts by outcome.",
		}, []string{"outcome"}),
		recoveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "duration_seconds",
			Help:      "Time spent replaying snapshot and events.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		replayed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "replayed_events_total",
			Help:      "Journal events delivered during recovery.",
		}),
		persisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "persisted_events_total",
			Help:      "Events appended by live units.",
		}),
		persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "persist_failures_total",
			Help:      "Failed or aborted appends.",
		}),
		unhandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "unhandled_messages_total",
			Help:      "Messages a handler declined, by kind.",
		}, []string{"kind"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit",
			Name:      "stops_total",
			Help:      "Unit stops by directive.",
		}, []string{"directive"}),
	}
	reg.MustRegister(c.recoveries, c.recoveryDuration, c.replayed, c.persisted, c.persistFailures, c.unhandled, c.stops)
	return c
}

func (c *Collector) RecoveryFinished(_ string, replayed uint64, elapsed time.Duration, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	c.recoveries.WithLabelValues(outcome).Inc()
	c.recoveryDuration.Observe(elapsed.Seconds())
	c.replayed.Add(float64(replayed))
}

func (c *Collector) Persisted(_ string, _ uint64, err error) {
	if err != nil {
		c.persistFailures.Inc()
		return
	}
	c.persisted.Inc()
}

func (c *Collector) Unhandled(_ string, kind persistence.Kind) {
	c.unhandled.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) Stopped(_ string, out persistence.Outcome) {
	c.stops.WithLabelValues(out.Directive.String()).Inc()
}

// Sizer reports on-disk store size, e.g. *badgerstore.Store.
type Sizer interface {
	Size() (lsm, vlog int64)
}

// RegisterStoreSize exports the LSM and value log sizes of s as gauges read
// at scrape time.
func RegisterStoreSize(reg prometheus.Registerer, s Sizer) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Size of the LSM tree in bytes.",
		}, func() float64 {
			lsm, _ := s.Size()
			return float64(lsm)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Size of the value log in bytes.",
		}, func() float64 {
			_, vlog := s.Size()
			return float64(vlog)
		}),
	)
}
