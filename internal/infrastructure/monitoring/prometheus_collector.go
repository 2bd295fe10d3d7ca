package monitoring

import (
	"pairlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports connection-establishment telemetry. Implements
// the telemetry observer contract.
type PrometheusCollector struct {
	attemptsTotal    *prometheus.CounterVec
	attemptsLive     prometheus.Gauge
	setupDuration    *prometheus.HistogramVec
	targetExceeded   prometheus.Counter
	relayFallbacks   prometheus.Counter
	candidatesTotal  *prometheus.CounterVec
	alertsTotal      *prometheus.CounterVec
	milestoneLatency *prometheus.HistogramVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		attemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_connection_attempts_total",
			Help: "Connection attempts by network class and outcome",
		}, []string{"network_class", "outcome"}),

		attemptsLive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "pairlink_connection_attempts_live",
			Help: "Attempts currently in progress",
		}),

		setupDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairlink_connection_setup_duration_seconds",
			Help:    "Time from attempt start to established connection",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"network_class"}),

		targetExceeded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_connection_target_exceeded_total",
			Help: "Successful connections slower than the setup target",
		}),

		relayFallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "pairlink_relay_fallbacks_total",
			Help: "Attempts that fell back to relay transport",
		}),

		candidatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_candidates_discovered_total",
			Help: "Discovered network paths by candidate type",
		}, []string{"candidate_type"}),

		alertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pairlink_performance_alerts_total",
			Help: "Performance alerts by type and severity",
		}, []string{"alert_type", "severity"}),

		milestoneLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pairlink_milestone_latency_seconds",
			Help:    "Time from attempt start to key milestones",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 15},
		}, []string{"milestone"}),
	}
}

func (p *PrometheusCollector) AttemptStarted(class domain.NetworkClass) {
	p.attemptsLive.Inc()
}

func (p *PrometheusCollector) AttemptCompleted(metrics *domain.ConnectionMetrics) {
	p.attemptsLive.Dec()

	outcome := "failure"
	if metrics.Success {
		outcome = "success"
	}
	p.attemptsTotal.WithLabelValues(string(metrics.NetworkClass), outcome).Inc()

	if metrics.Success {
		p.setupDuration.WithLabelValues(string(metrics.NetworkClass)).
			Observe(float64(metrics.TotalDurationMs) / 1000)
	}
	if metrics.ExceededTarget {
		p.targetExceeded.Inc()
	}
	if metrics.UsedRelayFallback {
		p.relayFallbacks.Inc()
	}

	p.observeMilestone("first_candidate", metrics.FirstCandidateMs)
	p.observeMilestone("offer_created", metrics.OfferCreatedMs)
	p.observeMilestone("connected", metrics.ConnectedMs)
}

func (p *PrometheusCollector) observeMilestone(name string, ms int64) {
	if ms < 0 {
		return
	}
	p.milestoneLatency.WithLabelValues(name).Observe(float64(ms) / 1000)
}

func (p *PrometheusCollector) CandidateDiscovered(candidateType domain.CandidateType) {
	p.candidatesTotal.WithLabelValues(string(candidateType)).Inc()
}

func (p *PrometheusCollector) AlertRaised(alert domain.PerformanceAlert) {
	p.alertsTotal.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
}
