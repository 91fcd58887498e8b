package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors of the service.
type Metrics struct {
	// AI calls
	AIAttempts  *prometheus.CounterVec
	AIFallbacks prometheus.Counter
	AIDuration  *prometheus.HistogramVec

	// Transcription
	ChunksTranscribed prometheus.Counter
	SplitInputs       prometheus.Counter
	AudioConversions  *prometheus.CounterVec

	// Token lifecycle
	TokenRefreshes *prometheus.CounterVec
	SignIns        prometheus.Counter

	// Pipeline
	Runs         *prometheus.CounterVec
	StageFailure *prometheus.CounterVec
	RunDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AIAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soapnote_ai_attempts_total",
			Help: "Model calls by model and outcome",
		}, []string{"model", "outcome"}),
		AIFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "soapnote_ai_fallbacks_total",
			Help: "Calls sent to the fallback model after server errors",
		}),
		AIDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "soapnote_ai_call_duration_seconds",
			Help:    "Latency of a single model call",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"model"}),

		ChunksTranscribed: f.NewCounter(prometheus.CounterOpts{
			Name: "soapnote_chunks_transcribed_total",
			Help: "Audio chunks sent for transcription",
		}),
		SplitInputs: f.NewCounter(prometheus.CounterOpts{
			Name: "soapnote_split_inputs_total",
			Help: "Recordings that exceeded the direct upload size and were split",
		}),
		AudioConversions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soapnote_audio_conversions_total",
			Help: "WAV normalizations by result",
		}, []string{"result"}),

		TokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soapnote_token_refreshes_total",
			Help: "Access token refreshes by result",
		}, []string{"result"}),
		SignIns: f.NewCounter(prometheus.CounterOpts{
			Name: "soapnote_sign_ins_total",
			Help: "Completed authorization code exchanges",
		}),

		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soapnote_runs_total",
			Help: "Chart generation runs by result",
		}, []string{"result"}),
		StageFailure: f.NewCounterVec(prometheus.CounterOpts{
			Name: "soapnote_stage_failures_total",
			Help: "Pipeline stage failures, fatal or not",
		}, []string{"stage"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "soapnote_run_duration_seconds",
			Help:    "Duration of a chart generation run",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Nop returns unregistered collectors.
func Nop() *Metrics {
	return New(nil)
}
