package sox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jarvis/core"
	"jarvis/utils/audio"
)

// PlayerConfig controls the playback command. Args are inserted before the
// file path.
type PlayerConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		Binary: "play",
		Args:   []string{"-q"},
	}
}

func (c PlayerConfig) Validate() error {
	if c.Binary == "" {
		return errors.New("sox: player binary is required")
	}
	return nil
}

// Player plays a WAV file on the default output device.
type Player struct {
	config PlayerConfig
	run    commandRunner
	logger *core.Logger
}

func NewPlayer(config PlayerConfig, logger *core.Logger) *Player {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Player{
		config: config,
		run:    runCommand,
		logger: logger.With(map[string]interface{}{"component": "player"}),
	}
}

// Play blocks until the playback process exits and returns the clip
// duration read from the WAV header. A 16-bit PCM clip whose data chunk does
// not hold whole frames is rejected before the player starts.
func (p *Player) Play(ctx context.Context, path string) (time.Duration, error) {
	info, samples, err := audio.ReadWAVFile(path)
	if err != nil {
		return 0, fmt.Errorf("sox: %w", err)
	}
	if info.Format == core.PCM && info.BitsPerSample == 16 {
		if err := audio.ValidatePCMData(samples, info.Channels); err != nil {
			return 0, fmt.Errorf("sox: %s: %w", path, err)
		}
	}
	binary, err := resolveBinary(p.config.Binary)
	if err != nil {
		return 0, err
	}

	args := append(append([]string{}, p.config.Args...), path)
	duration := info.Duration()
	p.logger.Debug("playing", "path", path, "duration", duration.String())

	start := time.Now()
	if err := p.run(ctx, binary, args...); err != nil {
		return 0, fmt.Errorf("sox: play: %w", err)
	}
	p.logger.Debug("playback finished", "elapsed", time.Since(start).String())
	return duration, nil
}
