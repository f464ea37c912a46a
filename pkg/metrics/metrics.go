package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	headSlotGauge         prometheus.Gauge
	headEpochGauge        prometheus.Gauge
	ticksCounter          *prometheus.CounterVec
	tickDuration          *prometheus.HistogramVec
	recordsCounter        *prometheus.CounterVec
	mismatchCounter       prometheus.Counter
	restartsCounter       *prometheus.CounterVec
	trackedGauge          prometheus.Gauge
	lastSampledEpochGauge prometheus.Gauge
	lastScannedBlockGauge prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	m := Metrics{
		registry: reg,
		// chain position as seen through the shared cache
		headSlotGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_head_slot", namespace),
			Help: "The latest resolved head slot",
		}),
		headEpochGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_head_epoch", namespace),
			Help: "The latest resolved head epoch",
		}),
		// monitor ticks
		ticksCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_ticks_total", namespace),
			Help: "Monitor ticks by result",
		}, []string{"monitor", "result"}),
		tickDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_tick_duration_seconds", namespace),
			Help:    "Monitor tick duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 12, 30, 60},
		}, []string{"monitor"}),
		restartsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_monitor_restarts_total", namespace),
			Help: "Monitor restarts after repeated failures",
		}, []string{"monitor"}),
		// records
		recordsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_records_written_total", namespace),
			Help: "New rows written by record kind",
		}, []string{"kind"}),
		mismatchCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_verification_mismatches_total", namespace),
			Help: "Status transitions withheld because the individual fetch disagreed",
		}),
		trackedGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_tracked_validators", namespace),
			Help: "Validators in the tracked status set",
		}),
		lastSampledEpochGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_credentials_last_sampled_epoch", namespace),
			Help: "The latest epoch with a credentials sample",
		}),
		lastScannedBlockGauge: factory.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_withdrawals_last_scanned_block", namespace),
			Help: "The latest execution block scanned for withdrawal requests",
		}),
	}
	return &m
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SetHead(slot, epoch uint64) {
	if m == nil {
		return
	}
	m.headSlotGauge.Set(float64(slot))
	m.headEpochGauge.Set(float64(epoch))
}

func (m *Metrics) ObserveTick(monitor string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ticksCounter.WithLabelValues(monitor, result).Inc()
	m.tickDuration.WithLabelValues(monitor).Observe(d.Seconds())
}

func (m *Metrics) IncSkippedTick(monitor string) {
	if m == nil {
		return
	}
	m.ticksCounter.WithLabelValues(monitor, "skipped").Inc()
}

func (m *Metrics) IncRestart(monitor string) {
	if m == nil {
		return
	}
	m.restartsCounter.WithLabelValues(monitor).Inc()
}

func (m *Metrics) AddRecords(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsCounter.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) IncMismatch() {
	if m == nil {
		return
	}
	m.mismatchCounter.Inc()
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.trackedGauge.Set(float64(n))
}

func (m *Metrics) SetLastSampledEpoch(epoch uint64) {
	if m == nil {
		return
	}
	m.lastSampledEpochGauge.Set(float64(epoch))
}

func (m *Metrics) SetLastScannedBlock(block uint64) {
	if m == nil {
		return
	}
	m.lastScannedBlockGauge.Set(float64(block))
}
