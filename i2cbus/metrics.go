package i2cbus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts transfers per device address. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	transfers *prometheus.CounterVec
	latency   prometheus.Histogram
	depth     prometheus.Gauge
}

// NewMetrics creates and registers the bus collectors. bus labels the
// physical bus, e.g. "i2c-1".
func NewMetrics(reg prometheus.Registerer, bus string) *Metrics {
	labels := prometheus.Labels{"bus": bus}
	m := &Metrics{
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "envnode_i2c_transfers_total",
			Help:        "I2C transfers by device address and result.",
			ConstLabels: labels,
		}, []string{"addr", "result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "envnode_i2c_transfer_seconds",
			Help:        "Time spent in the bus backend per transfer.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "envnode_i2c_queue_depth",
			Help:        "Requests waiting for the bus worker.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transfers, m.latency, m.depth)
	}
	return m
}

func (m *Metrics) observe(addr uint16, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.latency.Observe(d.Seconds())
	m.transfers.WithLabelValues(hexAddr(addr), result).Inc()
}

// abandoned counts a request dropped because its caller had already given up.
func (m *Metrics) abandoned(addr uint16) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(hexAddr(addr), "abandoned").Inc()
}

func (m *Metrics) queued(n int) {
	if m == nil {
		return
	}
	m.depth.Set(float64(n))
}
