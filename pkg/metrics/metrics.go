package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StepDeploy  = "deploy"
	StepProtect = "protect"
	StepPush    = "push"
	StepMembers = "members"
	StepGrant   = "grant"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// MetricCollector counts pipeline steps on its own registry.
type MetricCollector struct {
	registry      *prometheus.Registry
	steps         *prometheus.CounterVec
	stepLatency   *prometheus.HistogramVec
	flowsLinked   prometheus.Counter
	gatingRefusal prometheus.Counter
	startTime     time.Time
}

func NewMetricCollector() *MetricCollector {
	mc := &MetricCollector{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "splitgroup_step_total",
			Help: "Number of pipeline steps run, by step and outcome.",
		}, []string{"step", "outcome"}),
		stepLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "splitgroup_step_duration_seconds",
			Help:    "Time spent in each pipeline step, receipt wait included.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"step"}),
		flowsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splitgroup_flows_linked_total",
			Help: "Number of groups linked to their protected member list.",
		}),
		gatingRefusal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "splitgroup_push_refused_total",
			Help: "Number of push attempts refused before any transaction for lack of an address.",
		}),
		startTime: time.Now(),
	}
	mc.registry.MustRegister(mc.steps, mc.stepLatency, mc.flowsLinked, mc.gatingRefusal)
	return mc
}

// TrackStep records one finished step.
func (mc *MetricCollector) TrackStep(step string, started time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	mc.steps.WithLabelValues(step, outcome).Inc()
	mc.stepLatency.WithLabelValues(step).Observe(time.Since(started).Seconds())
}

func (mc *MetricCollector) RecordLinked() {
	mc.flowsLinked.Inc()
}

func (mc *MetricCollector) RecordPushRefused() {
	mc.gatingRefusal.Inc()
}

func (mc *MetricCollector) Uptime() time.Duration {
	return time.Since(mc.startTime)
}

func (mc *MetricCollector) Registry() *prometheus.Registry {
	return mc.registry
}

// Handler serves the registry in the text exposition format.
func (mc *MetricCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}
