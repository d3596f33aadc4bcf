package metrics

import (
    "net/http"
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    jobsPublished = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "textpipeline",
            Name:      "jobs_published_total",
            Help:      "Total jobs published by kind",
        },
        []string{"kind"},
    )

    jobsProcessed = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "textpipeline",
            Name:      "jobs_processed_total",
            Help:      "Total jobs processed by kind and result (success, retry, failure, revoked, dlq)",
        },
        []string{"kind", "result"},
    )

    jobLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{
            Namespace: "textpipeline",
            Name:      "job_duration_seconds",
            Help:      "Duration of job handlers by kind",
            Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
        },
        []string{"kind"},
    )

    requestsFinished = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "textpipeline",
            Name:      "requests_finished_total",
            Help:      "Requests that reached a final status",
        },
        []string{"status"},
    )

    lostJobs = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "textpipeline",
            Name:      "lost_jobs_republished_total",
            Help:      "Lost jobs found by the health monitor, by republish result",
        },
        []string{"result"},
    )

    callbacks = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "textpipeline",
            Name:      "callbacks_total",
            Help:      "Callback deliveries by channel (webhook, queue) and result",
        },
        []string{"channel", "result"},
    )

    queueDepth = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{
            Namespace: "textpipeline",
            Name:      "queue_depth",
            Help:      "Queue depth gauges for streams, delayed and dlq",
        },
        []string{"type"},
    )

    initOnce sync.Once
)

// Init registers collectors. Calling it more than once is harmless.
func Init() {
    initOnce.Do(func() {
        prometheus.MustRegister(jobsPublished, jobsProcessed, jobLatency, requestsFinished, lostJobs, callbacks, queueDepth)
    })
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

func IncPublished(kind string) { jobsPublished.WithLabelValues(kind).Inc() }

func ObserveJob(kind, result string, dur time.Duration) {
    jobsProcessed.WithLabelValues(kind, result).Inc()
    jobLatency.WithLabelValues(kind).Observe(dur.Seconds())
}

func IncFinished(status string) { requestsFinished.WithLabelValues(status).Inc() }
func IncLost(result string)     { lostJobs.WithLabelValues(result).Inc() }

func IncCallback(channel string, ok bool) {
    result := "ok"
    if !ok { result = "error" }
    callbacks.WithLabelValues(channel, result).Inc()
}

func SetQueueDepth(kind string, v int64) { queueDepth.WithLabelValues(kind).Set(float64(v)) }
