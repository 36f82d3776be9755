package factories

import (
	"jarvis/core"
	"jarvis/services/sox"
)

func BuildRecorder(config sox.RecorderConfig, logger *core.Logger) (*sox.Recorder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return sox.NewRecorder(config, logger), nil
}

func BuildPlayer(config sox.PlayerConfig, logger *core.Logger) (*sox.Player, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return sox.NewPlayer(config, logger), nil
}
