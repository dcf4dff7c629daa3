package metrics

import (
	"github.com/livepeer/transcode-pipeline/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPClientMetrics tracks a single outbound HTTP client keyed only by host,
// the shape MonitorRequest expects.
type HTTPClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// ClientMetrics tracks outbound calls to a collaborator (object store,
// broker) where the operation and target also need to be broken out.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// TaskPipelineMetrics tracks task throughput and per-stage latency across
// the Analyze/Predict/Transcode pipeline.
type TaskPipelineMetrics struct {
	Count          *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	FramesAnalyzed prometheus.Counter
	QueueDepth     *prometheus.GaugeVec
}

type TranscodePipelineMetrics struct {
	Version              *prometheus.CounterVec
	TasksInFlight         prometheus.Gauge
	HTTPRequestsInFlight  prometheus.Gauge
	APIRequestDurationSec *prometheus.SummaryVec

	ObjectStoreClient ClientMetrics
	BrokerClient      ClientMetrics
	SourceFetchClient HTTPClientMetrics

	TaskPipeline TaskPipelineMetrics
}

var stageBuckets = []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 180, 600}

func NewMetrics() *TranscodePipelineMetrics {
	m := &TranscodePipelineMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Current Git SHA / Tag that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),

		TasksInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tasks_in_flight",
			Help: "A count of the tasks currently claimed by this worker process",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A count of the http requests in flight",
		}),
		APIRequestDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "api_request_duration_seconds",
			Help: "The latency of requests made to the query API in seconds broken up by success and status code",
		}, []string{"success", "status_code", "route"}),

		ObjectStoreClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "object_store_retry_count",
				Help: "The number of retried object store requests",
			}, []string{"host", "operation", "bucket"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "object_store_failure_count",
				Help: "The total number of failed object store requests",
			}, []string{"host", "operation", "bucket"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "object_store_request_duration",
				Help:    "Time taken to send object store requests",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host", "operation", "bucket"}),
		},

		BrokerClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "broker_client_retry_count",
				Help: "The number of retried broker publish/consume operations",
			}, []string{"queue", "operation"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "broker_client_failure_count",
				Help: "The total number of failed broker publish/consume operations",
			}, []string{"queue", "operation"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "broker_client_request_duration",
				Help:    "Time taken for broker publish/consume operations",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"queue", "operation"}),
		},

		SourceFetchClient: HTTPClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "source_fetch_retry_count",
				Help: "The number of retried requests to fetch a source or regressor artifact over HTTP",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "source_fetch_failure_count",
				Help: "The total number of failed requests to fetch a source or regressor artifact over HTTP",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "source_fetch_request_duration",
				Help:    "Time taken to fetch a source or regressor artifact over HTTP",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host"}),
		},

		TaskPipeline: TaskPipelineMetrics{
			Count: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "task_count",
				Help: "Number of tasks that reached a terminal or transitional status, by stage",
			}, []string{"stage", "status"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "task_stage_duration_seconds",
				Help:    "Time taken to run a single pipeline stage (analyze, predict, transcode)",
				Buckets: stageBuckets,
			}, []string{"stage"}),
			FramesAnalyzed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "frames_analyzed_total",
				Help: "Total number of frames that completed the feature-extraction DAG",
			}),
			QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "broker_queue_depth",
				Help: "Last observed depth of a broker queue",
			}, []string{"queue"}),
		},
	}

	m.Version.WithLabelValues("transcode-pipeline", config.Version).Inc()

	return m
}

var Metrics = NewMetrics()
