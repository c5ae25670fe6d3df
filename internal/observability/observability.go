// Package observability wires the ambient structured-logging and metrics
// stack shared by every component: a package-level zap.Logger (grounded on
// the logging-wrapper pattern in the wider example pack) and a fixed set of
// Prometheus collectors for queue depth, external-call latency, and
// composition stage duration.
package observability

import (
	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var log *zap.Logger

// Init builds the process-wide logger. production=true selects the JSON
// encoder suitable for log aggregation; production=false selects a
// human-readable console encoder for local development.
func Init(level string, production bool) error {
	var cfg zap.Config
	if production {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	log = built
	return nil
}

// L returns the process logger, falling back to zap's global no-op logger
// if Init was never called (keeps tests from needing observability.Init).
func L() *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

func Sync() {
	if log != nil {
		_ = log.Sync()
	}
}

// Field helpers keep call sites from importing zap directly everywhere.
func SongID(id string) zap.Field  { return zap.String("song_id", id) }
func ClipID(id string) zap.Field  { return zap.String("clip_id", id) }
func JobID(id string) zap.Field   { return zap.String("job_id", id) }
func TraceID(id string) zap.Field { return zap.String("trace_id", id) }
func Component(c string) zap.Field { return zap.String("component", c) }

var (
	// QueueDepth is raised by clipcoordinator.Generate by the number of
	// clip jobs it enqueues on a named queue; nothing lowers or resamples it.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "queue_depth",
		Help:      "Approximate depth of a named job queue.",
	}, []string{"queue"})

	// ExternalCallDuration times calls to the video generator, the
	// optional structure/transcription services, and blob I/O.
	ExternalCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "external_call_duration_seconds",
		Help:      "Latency of calls to external collaborators.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"service", "outcome"})

	// ExternalCallRetries counts retries issued per external service
	// (§7 TransientExternal retry policy).
	ExternalCallRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orchestrator",
		Name:      "external_call_retries_total",
		Help:      "Retry attempts issued against external collaborators.",
	}, []string{"service"})

	// CompositionStageDuration times each CompositionJob state-machine
	// step (§4.6).
	CompositionStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orchestrator",
		Name:      "composition_stage_duration_seconds",
		Help:      "Duration of each composition pipeline stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})

	// ClipsProcessing tracks count(Clip.status=processing for song=S),
	// the quantity the concurrency cap C bounds (§4.4, §8).
	ClipsProcessing = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "orchestrator",
		Name:      "clips_processing",
		Help:      "Clips currently claimed processing, per song.",
	}, []string{"song_id"})
)
