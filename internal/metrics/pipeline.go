package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline holds the engine collectors. A nil *Pipeline is valid and records
// nothing, so components can be built without metrics in tests.
type Pipeline struct {
	streamFrames     *prometheus.CounterVec
	streamReconnects prometheus.Counter
	streamConnected  prometheus.Gauge
	filterDecisions  *prometheus.CounterVec
	queuePending     prometheus.Gauge
	dispatchTicks    prometheus.Counter
	dispatchDuration prometheus.Histogram
	dispatchEntries  prometheus.Counter
	actions          *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
}

// NewPipeline creates the engine collectors and registers them.
func NewPipeline(reg prometheus.Registerer) (*Pipeline, error) {
	p := &Pipeline{
		streamFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "frames_total",
			Help:      "Stream frames received, by classification.",
		}, []string{"kind"}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Stream reconnect attempts.",
		}),
		streamConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the stream connection is open.",
		}),
		filterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Eligibility filter decisions.",
		}, []string{"decision"}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "pending",
			Help:      "Undispatched entries in the hype queue.",
		}),
		dispatchTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "postman",
			Name:      "ticks_total",
			Help:      "Completed dispatcher ticks.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "postman",
			Name:      "tick_duration_seconds",
			Help:      "Dispatcher tick latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		dispatchEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "postman",
			Name:      "entries_dispatched_total",
			Help:      "Queue entries marked dispatched.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitter",
			Name:      "actions_total",
			Help:      "Remote actions, by action and outcome.",
		}, []string{"action", "outcome"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitter",
			Name:      "token_refreshes_total",
			Help:      "OAuth2 refresh exchanges, by outcome.",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{
		p.streamFrames,
		p.streamReconnects,
		p.streamConnected,
		p.filterDecisions,
		p.queuePending,
		p.dispatchTicks,
		p.dispatchDuration,
		p.dispatchEntries,
		p.actions,
		p.tokenRefreshes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

func (p *Pipeline) ObserveFrame(kind string) {
	if p == nil {
		return
	}
	p.streamFrames.WithLabelValues(kind).Inc()
}

func (p *Pipeline) ObserveReconnect() {
	if p == nil {
		return
	}
	p.streamReconnects.Inc()
}

func (p *Pipeline) SetStreamConnected(connected bool) {
	if p == nil {
		return
	}
	if connected {
		p.streamConnected.Set(1)
		return
	}
	p.streamConnected.Set(0)
}

func (p *Pipeline) ObserveDecision(decision string) {
	if p == nil {
		return
	}
	p.filterDecisions.WithLabelValues(decision).Inc()
}

func (p *Pipeline) SetQueuePending(n int) {
	if p == nil {
		return
	}
	p.queuePending.Set(float64(n))
}

// ObserveTick records one finished dispatcher pass.
func (p *Pipeline) ObserveTick(d time.Duration, dispatched int) {
	if p == nil {
		return
	}
	p.dispatchTicks.Inc()
	p.dispatchDuration.Observe(d.Seconds())
	p.dispatchEntries.Add(float64(dispatched))
}

func (p *Pipeline) ObserveAction(action, outcome string) {
	if p == nil {
		return
	}
	p.actions.WithLabelValues(action, outcome).Inc()
}

func (p *Pipeline) ObserveRefresh(outcome string) {
	if p == nil {
		return
	}
	p.tokenRefreshes.WithLabelValues(outcome).Inc()
}
