package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	PostsQueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_posts_queued_total",
		Help: "Posts created in the queue, by source.",
	}, []string{"source"})

	PostOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_post_outcomes_total",
		Help: "Terminal post outcomes (published or error).",
	}, []string{"status"})

	PlatformPublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_platform_publish_total",
		Help: "Per-platform publish attempts by result.",
	}, []string{"platform", "result"})

	RemoteStepFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_remote_step_failures_total",
		Help: "Failed attempts of remote protocol steps.",
	}, []string{"platform", "step"})

	RepostsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_reposts_created_total",
		Help: "Repost children created, by reason.",
	}, []string{"reason"})

	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autopost_events_dropped_total",
		Help: "In-process events a subscriber missed, by event type.",
	}, []string{"type"})

	LoopDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autopost_loop_duration_seconds",
		Help:    "Duration of periodic loop runs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})
)

// MustRegister registers the package collectors once
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			PostsQueuedTotal,
			PostOutcomesTotal,
			PlatformPublishTotal,
			RemoteStepFailuresTotal,
			RepostsCreatedTotal,
			EventsDroppedTotal,
			LoopDuration,
		)
	})
}

// Handler exposes the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePlatformPublish counts one platform attempt of a post
func ObservePlatformPublish(platform string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	PlatformPublishTotal.WithLabelValues(platform, result).Inc()
}

// ObserveLoop records how long one run of a periodic loop took
func ObserveLoop(loop string, start time.Time) {
	LoopDuration.WithLabelValues(loop).Observe(time.Since(start).Seconds())
}
