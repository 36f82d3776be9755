package factories

import (
	"errors"

	"jarvis/core"
	elevenlabs "jarvis/services/elevenlabs/tts"
)

// BuildTTSService constructs the ElevenLabs synthesizer.
func BuildTTSService(config elevenlabs.ElevenLabsTTSConfig, logger *core.Logger) (*elevenlabs.ElevenLabsTTS, error) {
	if config.APIKey == "" {
		return nil, errors.New("tts: elevenlabs API key is required")
	}
	return elevenlabs.NewElevenLabsTTS(config, logger)
}
