package factories

import (
	"errors"

	"jarvis/core"
	deepgramstt "jarvis/services/deepgram/stt"
)

// BuildSTTService constructs the Deepgram transcriber.
func BuildSTTService(config deepgramstt.DeepgramConfig, logger *core.Logger) (*deepgramstt.DeepgramSTTService, error) {
	if config.APIKey == "" {
		return nil, errors.New("stt: deepgram API key is required")
	}
	return deepgramstt.NewDeepgramSTTService(&config, logger), nil
}
