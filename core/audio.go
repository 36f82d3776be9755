package core

import "time"

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // 16-bit little endian pulse-code modulation.
	ULAW                            // G.711 µ-law.
	ALAW                            // G.711 A-law.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case ULAW:
		return "ulaw"
	case ALAW:
		return "alaw"
	default:
		return "unknown"
	}
}

type AudioChunk struct {
	Data       []byte              // Raw audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

// Duration returns the playback length of the chunk. G.711 formats use one
// byte per sample, PCM two.
func (ac *AudioChunk) Duration() time.Duration {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return time.Duration(totalSamples) * time.Second / time.Duration(ac.SampleRate)
}
