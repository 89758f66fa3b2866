package metricsmanager

import (
	"net/http"
	"time"

	"github.com/kubescape/go-logger"
	"github.com/kubescape/go-logger/helpers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
	"github.com/buildsandbox/sandbox-agent/pkg/metricsmanager"
)

const operationLabel = "operation"

var _ metricsmanager.MetricsManager = (*PrometheusMetric)(nil)

type PrometheusMetric struct {
	listenAddr string

	eventCounter      *prometheus.CounterVec
	hopCounter        prometheus.Counter
	failedCounter     prometheus.Counter
	droppedCounter    prometheus.Counter
	occupancyGauge    prometheus.Gauge
	maxOccupancyGauge prometheus.Gauge
	batchCounter      prometheus.Counter
	batchSizeHist     prometheus.Histogram
	forwardTime       prometheus.Histogram
	forwardFailures   prometheus.Counter
}

func NewPrometheusMetric(listenAddr string) *PrometheusMetric {
	return &PrometheusMetric{
		listenAddr: listenAddr,
		eventCounter: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sandbox_agent_access_event_counter",
			Help: "The total number of access events observed, by operation",
		}, []string{operationLabel}),
		hopCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_agent_symlink_hop_counter",
			Help: "The total number of symlink hops reported during path resolution",
		}),
		failedCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_agent_failed_event_counter",
			Help: "The total number of events that failed resolution or attribution",
		}),
		droppedCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_agent_dropped_report_counter",
			Help: "The total number of reports dropped by the overload policy",
		}),
		occupancyGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_agent_channel_occupancy",
			Help: "Reports currently in flight in the report channel",
		}),
		maxOccupancyGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_agent_channel_max_occupancy",
			Help: "Highest observed report channel occupancy",
		}),
		batchCounter: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_agent_forwarded_batch_counter",
			Help: "The total number of report batches forwarded to the orchestrator",
		}),
		batchSizeHist: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandbox_agent_forwarded_batch_size",
			Help:    "Size of forwarded report batches",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		forwardTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "sandbox_agent_forward_time_seconds",
			Help:    "Time taken to forward a report batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		forwardFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_agent_forward_failure_counter",
			Help: "The total number of failed batch forwards (before retries succeeded or gave up)",
		}),
	}
}

func (p *PrometheusMetric) Start() {
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.L().Info("prometheus metrics server started",
			helpers.String("addr", p.listenAddr), helpers.String("path", "/metrics"))
		logger.L().Fatal(http.ListenAndServe(p.listenAddr, nil).Error())
	}()
}

func (p *PrometheusMetric) Destroy() {
	prometheus.Unregister(p.eventCounter)
	prometheus.Unregister(p.hopCounter)
	prometheus.Unregister(p.failedCounter)
	prometheus.Unregister(p.droppedCounter)
	prometheus.Unregister(p.occupancyGauge)
	prometheus.Unregister(p.maxOccupancyGauge)
	prometheus.Unregister(p.batchCounter)
	prometheus.Unregister(p.batchSizeHist)
	prometheus.Unregister(p.forwardTime)
	prometheus.Unregister(p.forwardFailures)
}

func (p *PrometheusMetric) ReportEvent(op accessevent.OperationKind) {
	p.eventCounter.With(prometheus.Labels{operationLabel: op.String()}).Inc()
}

func (p *PrometheusMetric) ReportSymlinkHop() {
	p.hopCounter.Inc()
}

func (p *PrometheusMetric) ReportFailedEvent() {
	p.failedCounter.Inc()
}

func (p *PrometheusMetric) ReportDroppedReport() {
	p.droppedCounter.Inc()
}

func (p *PrometheusMetric) ReportChannelOccupancy(occupancy int, maxObserved uint64) {
	p.occupancyGauge.Set(float64(occupancy))
	p.maxOccupancyGauge.Set(float64(maxObserved))
}

func (p *PrometheusMetric) ReportBatchForwarded(size int, duration time.Duration) {
	p.batchCounter.Inc()
	p.batchSizeHist.Observe(float64(size))
	p.forwardTime.Observe(duration.Seconds())
}

func (p *PrometheusMetric) ReportForwardFailure() {
	p.forwardFailures.Inc()
}
