package sox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"jarvis/core"
)

// RecorderConfig controls the sox `rec` invocation.
type RecorderConfig struct {
	Binary     string `yaml:"binary"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	// SilenceThreshold is the sox level below which audio counts as silence,
	// e.g. "3%" or "-40d".
	SilenceThreshold string `yaml:"silence_threshold"`
	// SilenceStart is how long sound must last before recording begins.
	SilenceStart float64 `yaml:"silence_start"`
	// SilenceStop is the trailing silence, in seconds, that ends the recording.
	SilenceStop float64 `yaml:"silence_stop"`
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		Binary:           "rec",
		SampleRate:       16000,
		Channels:         1,
		SilenceThreshold: "3%",
		SilenceStart:     0.1,
		SilenceStop:      1.5,
	}
}

func (c RecorderConfig) Validate() error {
	if c.Binary == "" {
		return errors.New("sox: recorder binary is required")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sox: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("sox: channels must be 1 or 2, got %d", c.Channels)
	}
	if c.SilenceThreshold == "" {
		return errors.New("sox: silence_threshold is required")
	}
	if c.SilenceStop <= 0 {
		return fmt.Errorf("sox: silence_stop must be positive, got %g", c.SilenceStop)
	}
	return nil
}

// Recorder captures one utterance from the default input device into a
// 16-bit WAV file. Recording starts on sound and stops after trailing silence.
type Recorder struct {
	config RecorderConfig
	run    commandRunner
	logger *core.Logger
}

func NewRecorder(config RecorderConfig, logger *core.Logger) *Recorder {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Recorder{
		config: config,
		run:    runCommand,
		logger: logger.With(map[string]interface{}{"component": "recorder"}),
	}
}

// Record blocks until the utterance is complete and the file at path has
// been written, replacing any previous recording.
func (r *Recorder) Record(ctx context.Context, path string) error {
	binary, err := resolveBinary(r.config.Binary)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("sox: mkdir %q: %w", dir, err)
		}
	}

	args := r.args(path)
	r.logger.Debug("recording", "binary", binary, "args", args)
	if err := r.run(ctx, binary, args...); err != nil {
		return fmt.Errorf("sox: record: %w", err)
	}
	return nil
}

func (r *Recorder) args(path string) []string {
	stop := strconv.FormatFloat(r.config.SilenceStop, 'f', -1, 64)
	start := strconv.FormatFloat(r.config.SilenceStart, 'f', -1, 64)
	return []string{
		"-q",
		"-r", strconv.Itoa(r.config.SampleRate),
		"-c", strconv.Itoa(r.config.Channels),
		"-b", "16",
		path,
		"silence",
		"1", start, r.config.SilenceThreshold,
		"1", stop, r.config.SilenceThreshold,
	}
}
