// Package metrics records per-stage timings of the assistant loop and writes
// them to a node_exporter textfile. Nothing is served over the network.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"jarvis/core"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jarvis"

// Recorder collects loop metrics into its own registry. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry
	path     string
	logger   *core.Logger

	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec
	llmRetries    prometheus.Counter
	turns         *prometheus.CounterVec
	lastTurn      prometheus.Gauge
}

// NewRecorder creates a Recorder. When textfilePath is empty Flush does
// nothing.
func NewRecorder(textfilePath string, logger *core.Logger) *Recorder {
	if logger == nil {
		logger = core.GetLogger()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		path:     textfilePath,
		logger:   logger.With(map[string]interface{}{"component": "metrics"}),

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each loop stage in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"stage"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of failed loop stages",
			},
			[]string{"stage"},
		),
		llmRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_retries_total",
				Help:      "Total number of response generation retries after transient overload",
			},
		),
		turns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of conversation turns appended",
			},
			[]string{"role"},
		),
		lastTurn: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_turn_timestamp_seconds",
				Help:      "Unix time of the last completed exchange",
			},
		),
	}
}

func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (r *Recorder) StageFailed(stage string) {
	if r == nil {
		return
	}
	r.stageErrors.WithLabelValues(stage).Inc()
}

// RetryObserved matches the retry callback signature.
func (r *Recorder) RetryObserved(_ int, _ error, _ time.Duration) {
	if r == nil {
		return
	}
	r.llmRetries.Inc()
}

func (r *Recorder) TurnAppended(role core.Role) {
	if r == nil {
		return
	}
	r.turns.WithLabelValues(string(role)).Inc()
}

// ExchangeCompleted stamps the end of a full listen-to-speak iteration.
func (r *Recorder) ExchangeCompleted(at time.Time) {
	if r == nil {
		return
	}
	r.lastTurn.Set(float64(at.Unix()))
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Flush writes all metrics to the textfile, replacing it atomically.
func (r *Recorder) Flush() error {
	if r == nil || r.path == "" {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("metrics: mkdir %q: %w", dir, err)
		}
	}
	if err := prometheus.WriteToTextfile(r.path, r.registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
