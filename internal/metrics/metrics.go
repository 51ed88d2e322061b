package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/kyc-worker/internal/assessment"
)

const namespace = "kyc_worker"

// Recorder exports assessment metrics on its own registry.
type Recorder struct {
	registry    *prometheus.Registry
	assessments *prometheus.CounterVec
	reasons     *prometheus.CounterVec
	failures    *prometheus.CounterVec
	liveness    prometheus.Histogram
	faceMatch   prometheus.Histogram
	duration    prometheus.Histogram
}

// NewRecorder registers the collectors together with the Go and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		assessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Completed session assessments by face match outcome.",
		}, []string{"face_match"}),
		reasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reason_codes_total",
			Help:      "Reason codes emitted by the assessment engine.",
		}, []string{"code"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processing_failures_total",
			Help:      "Sessions that failed processing, by failing operation.",
		}, []string{"operation"}),
		liveness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "liveness_score",
			Help:      "Distribution of liveness scores.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		faceMatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "face_match_score",
			Help:      "Distribution of face match scores.",
			Buckets:   prometheus.LinearBuckets(-0.8, 0.2, 10),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assessment_duration_seconds",
			Help:      "Wall-clock time of one engine pass.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.assessments, r.reasons, r.failures, r.liveness, r.faceMatch, r.duration,
	)
	return r
}

// ObserveAssessment records a completed assessment.
func (r *Recorder) ObserveAssessment(result *assessment.Assessment, duration time.Duration) {
	faceMatch := "omitted"
	if result.FaceMatchScore != nil {
		faceMatch = "computed"
		r.faceMatch.Observe(*result.FaceMatchScore)
	}
	r.assessments.WithLabelValues(faceMatch).Inc()
	r.liveness.Observe(result.LivenessScore)
	r.duration.Observe(duration.Seconds())
	for _, code := range result.ReasonCodes {
		r.reasons.WithLabelValues(reasonLabel(code)).Inc()
	}
}

// ObserveFailure records a session that could not be processed.
func (r *Recorder) ObserveFailure(operation string) {
	r.failures.WithLabelValues(operation).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// reasonLabel maps reason codes onto a bounded label set.
func reasonLabel(code assessment.ReasonCode) string {
	s := string(code)
	if strings.HasPrefix(s, "missing_segment_") {
		return "missing_segment"
	}
	if prompt, ok := strings.CutPrefix(s, "prompt_failed_"); ok {
		switch assessment.Prompt(prompt) {
		case assessment.LookLeft, assessment.LookRight, assessment.LookUp, assessment.LookDown:
			return s
		}
		return "prompt_failed_other"
	}
	return s
}
