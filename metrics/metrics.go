package metrics

import (
	"github.com/opensubs-io/subsync/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics is the retry/failure/latency vector set registered once per
// outbound HTTP client in this system (catalog, LLM, media server). The
// client code does not record into these vectors.
type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// PipelineMetrics tracks the job lifecycle (§3, §4.4) end to end.
type PipelineMetrics struct {
	JobsCreated   *prometheus.CounterVec
	JobsInFlight  prometheus.Gauge
	JobsTerminal  *prometheus.CounterVec
	DedupHits     prometheus.Counter
	DownloadDur   prometheus.Histogram
	TranslateDur  prometheus.Histogram
	ChunkDur      *prometheus.HistogramVec
	ChunksTotal   *prometheus.CounterVec
	CheckpointLen prometheus.Gauge
}

type SubsyncMetrics struct {
	Version              *prometheus.CounterVec
	HTTPRequestsInFlight prometheus.Gauge

	CatalogClient     ClientMetrics
	LLMClient         ClientMetrics
	MediaServerClient ClientMetrics

	Pipeline PipelineMetrics
}

func NewMetrics() *SubsyncMetrics {
	durationBuckets := []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}

	m := &SubsyncMetrics{
		Version: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "version",
			Help: "Current Git SHA / Tag that's running. Incremented once on app startup.",
		}, []string{"app", "version"}),

		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A count of the http requests in flight",
		}),

		CatalogClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "catalog_client_retry_count",
				Help: "The number of retried subtitle catalog requests",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "catalog_client_failure_count",
				Help: "The total number of failed subtitle catalog requests",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "catalog_client_request_duration_seconds",
				Help:    "Time taken for subtitle catalog requests",
				Buckets: durationBuckets,
			}, []string{"host", "operation"}),
		},

		LLMClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "llm_client_retry_count",
				Help: "The number of retried translation requests",
			}, []string{"model"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "llm_client_failure_count",
				Help: "The total number of failed translation requests",
			}, []string{"model", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "llm_client_request_duration_seconds",
				Help:    "Time taken per translation chunk request",
				Buckets: durationBuckets,
			}, []string{"model"}),
		},

		MediaServerClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "media_server_client_retry_count",
				Help: "The number of retried media server requests",
			}, []string{"host"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "media_server_client_failure_count",
				Help: "The total number of failed media server requests",
			}, []string{"host", "status_code"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "media_server_client_request_duration_seconds",
				Help:    "Time taken for media server requests",
				Buckets: durationBuckets,
			}, []string{"host"}),
		},

		Pipeline: PipelineMetrics{
			JobsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "jobs_created_total",
				Help: "Number of jobs created by the orchestrator, by kind",
			}, []string{"kind"}),
			JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "jobs_in_flight",
				Help: "A count of the jobs currently in a non-terminal status",
			}),
			JobsTerminal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "jobs_terminal_total",
				Help: "Number of jobs that reached a terminal status, by status and error_type",
			}, []string{"status", "error_type"}),
			DedupHits: promauto.NewCounter(prometheus.CounterOpts{
				Name: "dedup_hits_total",
				Help: "Number of submissions that hit an existing in-flight dedup reservation",
			}),
			DownloadDur: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "download_duration_seconds",
				Help:    "Time taken for a download task from receipt to ready/failed",
				Buckets: durationBuckets,
			}),
			TranslateDur: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "translate_duration_seconds",
				Help:    "Time taken for a translation task from receipt to completed/failed",
				Buckets: durationBuckets,
			}),
			ChunkDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "translation_chunk_duration_seconds",
				Help:    "Time taken to translate a single chunk, by outcome",
				Buckets: durationBuckets,
			}, []string{"outcome"}),
			ChunksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "translation_chunks_total",
				Help: "Number of translation chunks processed, by outcome",
			}, []string{"outcome"}),
			CheckpointLen: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "checkpoint_chunks_completed",
				Help: "Chunks completed across all currently retained checkpoints",
			}),
		},
	}

	m.Version.WithLabelValues("subsync", config.Version).Inc()

	return m
}

var Metrics = NewMetrics()
