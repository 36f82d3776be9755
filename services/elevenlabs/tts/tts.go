package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"jarvis/core"
	"jarvis/utils/audio"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	DefaultBaseURL      = "wss://api.elevenlabs.io/v1/text-to-speech"
	DefaultVoiceID      = "iWNf11sz1GrUE4ppxTOL"
	DefaultModelID      = "eleven_monolingual_v1"
	DefaultOutputFormat = "pcm_24000"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey       string `yaml:"-"`
	BaseURL      string `yaml:"base_url"`
	VoiceID      string `yaml:"voice_id"`
	ModelID      string `yaml:"model_id"`
	OutputFormat string `yaml:"output_format"`

	// Voice settings
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`

	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
}

// DefaultConfig returns the voice and model the assistant ships with.
func DefaultConfig() ElevenLabsTTSConfig {
	return ElevenLabsTTSConfig{
		BaseURL:          DefaultBaseURL,
		VoiceID:          DefaultVoiceID,
		ModelID:          DefaultModelID,
		OutputFormat:     DefaultOutputFormat,
		Stability:        0.5,
		SimilarityBoost:  0.75,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
	}
}

// Validate checks that the output format is one the service can decode.
func (c ElevenLabsTTSConfig) Validate() error {
	if _, _, err := ParseOutputFormat(c.OutputFormat); err != nil {
		return err
	}
	if c.VoiceID == "" {
		return errors.New("elevenlabs: voice_id is required")
	}
	if c.Stability < 0 || c.Stability > 1 {
		return fmt.Errorf("elevenlabs: stability must be within [0,1], got %g", c.Stability)
	}
	if c.SimilarityBoost < 0 || c.SimilarityBoost > 1 {
		return fmt.Errorf("elevenlabs: similarity_boost must be within [0,1], got %g", c.SimilarityBoost)
	}
	return nil
}

// ParseOutputFormat maps an ElevenLabs output_format value to an encoding and
// sample rate. Only raw PCM and 8 kHz µ-law are supported.
func ParseOutputFormat(format string) (core.AudioEncodingFormat, int, error) {
	switch {
	case format == "ulaw_8000":
		return core.ULAW, 8000, nil
	case strings.HasPrefix(format, "pcm_"):
		rate, err := strconv.Atoi(strings.TrimPrefix(format, "pcm_"))
		if err != nil || rate <= 0 {
			return 0, 0, fmt.Errorf("elevenlabs: invalid output format %q", format)
		}
		return core.PCM, rate, nil
	default:
		return 0, 0, fmt.Errorf("elevenlabs: unsupported output format %q", format)
	}
}

// ElevenLabsTTS synthesizes a full reply over one stream-input websocket per
// call.
type ElevenLabsTTS struct {
	config     ElevenLabsTTSConfig
	encoding   core.AudioEncodingFormat
	sampleRate int
	dialer     *websocket.Dialer
	logger     *core.Logger
}

// Client messages
type (
	// BOS (Beginning of Stream) opens the generation
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text string `json:"text"`
	}
)

// Server messages
type elServerMessage struct {
	Audio   *string `json:"audio"`
	IsFinal bool    `json:"isFinal"`
	Error   string  `json:"error"`
	Code    int     `json:"code"`
	Message string  `json:"message"`
}

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config
func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) (*ElevenLabsTTS, error) {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.VoiceID == "" {
		config.VoiceID = defaults.VoiceID
	}
	if config.ModelID == "" {
		config.ModelID = defaults.ModelID
	}
	if config.OutputFormat == "" {
		config.OutputFormat = defaults.OutputFormat
	}
	if config.Stability == 0 {
		config.Stability = defaults.Stability
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = defaults.SimilarityBoost
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}

	encoding, rate, err := ParseOutputFormat(config.OutputFormat)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = core.GetLogger()
	}
	return &ElevenLabsTTS{
		config:     config,
		encoding:   encoding,
		sampleRate: rate,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		logger: logger.With(map[string]interface{}{"component": "elevenlabs_tts", "voice": config.VoiceID}),
	}, nil
}

func (e *ElevenLabsTTS) VoiceID() string {
	return e.config.VoiceID
}

// SynthesizeToFile synthesizes text and writes it as a 16-bit PCM WAV to
// path, creating the parent directory and replacing any previous file. It
// returns the clip duration.
func (e *ElevenLabsTTS) SynthesizeToFile(ctx context.Context, text, path string) (time.Duration, error) {
	chunk, err := e.Synthesize(ctx, text)
	if err != nil {
		return 0, err
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("elevenlabs: mkdir %q: %w", dir, err)
		}
	}
	if err := audio.WriteWAVFile(path, chunk); err != nil {
		return 0, fmt.Errorf("elevenlabs: %w", err)
	}
	return chunk.Duration(), nil
}

// Synthesize sends text as a single generation and returns the complete
// audio, decoded to 16-bit PCM.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	if e.config.APIKey == "" {
		return core.AudioChunk{}, errors.New("elevenlabs: API key is required")
	}
	if strings.TrimSpace(text) == "" {
		return core.AudioChunk{}, errors.New("elevenlabs: text cannot be empty")
	}

	conn, err := e.dial(ctx)
	if err != nil {
		return core.AudioChunk{}, err
	}
	defer conn.Close()

	// unblock ReadMessage when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := e.sendJSON(conn, e.bosMessage()); err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: send BOS: %w", err)
	}
	// the stream-input API expects every text chunk to end with a space
	if err := e.sendJSON(conn, elTextMessage{Text: text + " "}); err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: send text: %w", err)
	}
	// EOS: empty text asks for the remaining audio and closes the stream
	if err := e.sendJSON(conn, elTextMessage{Text: ""}); err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: send EOS: %w", err)
	}

	data, err := e.collect(ctx, conn)
	if err != nil {
		return core.AudioChunk{}, err
	}
	if len(data) == 0 {
		return core.AudioChunk{}, errors.New("elevenlabs: no audio received")
	}

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	chunk, err := audio.ToPCM(core.AudioChunk{
		Data:       data,
		SampleRate: e.sampleRate,
		Channels:   1,
		Format:     e.encoding,
	})
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("elevenlabs: %w", err)
	}
	return chunk, nil
}

// collect reads server frames until isFinal or a normal close.
func (e *ElevenLabsTTS) collect(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	var data []byte
	frames := 0
	for {
		conn.SetReadDeadline(time.Now().Add(e.config.ReadTimeout))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				e.logger.Debug("stream closed by server", "frames", frames, "bytes", len(data))
				return data, nil
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg elServerMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if msg.Error != "" {
			if msg.Message != "" {
				return nil, fmt.Errorf("elevenlabs: %s: %s (code: %d)", msg.Error, msg.Message, msg.Code)
			}
			return nil, fmt.Errorf("elevenlabs: %s", msg.Error)
		}
		if msg.Audio != nil && *msg.Audio != "" {
			decoded, err := base64.StdEncoding.DecodeString(*msg.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			data = append(data, decoded...)
			frames++
		}
		if msg.IsFinal {
			e.logger.Debug("generation complete", "frames", frames, "bytes", len(data))
			return data, nil
		}
	}
}

func (e *ElevenLabsTTS) streamURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(e.config.BaseURL, "/") + "/" + url.PathEscape(e.config.VoiceID) + "/stream-input")
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", e.config.OutputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (e *ElevenLabsTTS) dial(ctx context.Context) (*websocket.Conn, error) {
	streamURL, err := e.streamURL()
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build url: %w", err)
	}

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, streamURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("elevenlabs: dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	return conn, nil
}

func (e *ElevenLabsTTS) bosMessage() elBOSMessage {
	return elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
}

// sendJSON marshals and sends a JSON message over WebSocket
func (e *ElevenLabsTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}
