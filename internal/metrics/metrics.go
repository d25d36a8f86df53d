package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_requests_total",
		Help: "Requests processed by operation",
	}, []string{"op"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_errors_total",
		Help: "Error counts by operation and stage",
	}, []string{"op", "stage"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicegate_stage_duration_seconds",
		Help:    "Per-stage latency (store, transcode, embed, synth, convert)",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	}, []string{"stage"})

	SynthesisActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_synthesis_active",
		Help: "Synthesis requests currently in flight",
	})

	StreamSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicegate_stream_sessions_active",
		Help: "Currently active streaming speak sessions",
	})

	StreamSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicegate_stream_sessions_total",
		Help: "Total streaming speak sessions",
	})

	AudioBytesOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicegate_audio_bytes_out_total",
		Help: "Synthesized audio bytes returned to clients",
	}, []string{"op"})
)
