package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"jarvis/core"

	"github.com/bytedance/sonic"
)

// ErrEmptyAudio is returned when the recording file holds no bytes.
var ErrEmptyAudio = errors.New("deepgram: audio file is empty")

// DeepgramConfig holds configuration options for Deepgram prerecorded STT
type DeepgramConfig struct {
	APIKey      string        `yaml:"-"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Language    string        `yaml:"language"`
	Punctuate   bool          `yaml:"punctuate"`
	SmartFormat bool          `yaml:"smart_format"`
	MimeType    string        `yaml:"mime_type"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a default configuration for Deepgram STT
func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:  "https://api.deepgram.com",
		Model:    "nova-2",
		MimeType: "audio/wav",
		Timeout:  60 * time.Second,
	}
}

// DeepgramSTTService transcribes a recorded file with one request to
// Deepgram's /v1/listen endpoint.
type DeepgramSTTService struct {
	config *DeepgramConfig
	client *http.Client
	logger *core.Logger
}

// NewDeepgramSTTService creates a new Deepgram STT service instance.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.MimeType == "" {
		config.MimeType = defaults.MimeType
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = core.GetLogger()
	}

	return &DeepgramSTTService{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With(map[string]interface{}{"component": "deepgram_stt"}),
	}
}

// Transcribe uploads the file at path and returns its words joined by single
// spaces.
func (d *DeepgramSTTService) Transcribe(ctx context.Context, path string) (string, error) {
	words, err := d.TranscribeWords(ctx, path)
	if err != nil {
		return "", err
	}
	return JoinWords(words), nil
}

// TranscribeWords uploads the file at path and returns the word list of the
// first alternative of the first channel.
func (d *DeepgramSTTService) TranscribeWords(ctx context.Context, path string) ([]Word, error) {
	if d.config.APIKey == "" {
		return nil, errors.New("deepgram: API key is required")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("deepgram: open audio: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("deepgram: stat audio: %w", err)
	}
	if stat.Size() == 0 {
		return nil, ErrEmptyAudio
	}

	listenURL, err := d.buildListenURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, listenURL, f)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Authorization", "Token "+d.config.APIKey)
	req.Header.Set("Content-Type", d.config.MimeType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("deepgram: API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result ListenV1Response
	if err := sonic.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("deepgram: decode response: %w", err)
	}

	d.logger.Debug("transcription received",
		"request_id", result.Metadata.RequestID,
		"audio_seconds", result.Metadata.Duration,
		"elapsed", time.Since(start).String(),
	)

	if len(result.Results.Channels) == 0 || len(result.Results.Channels[0].Alternatives) == 0 {
		d.logger.Warn("transcription has no alternatives", "request_id", result.Metadata.RequestID)
		return nil, nil
	}
	return result.Results.Channels[0].Alternatives[0].Words, nil
}

// buildListenURL constructs the /v1/listen URL with query parameters
func (d *DeepgramSTTService) buildListenURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(d.config.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	if d.config.Punctuate {
		q.Set("punctuate", "true")
	}
	if d.config.SmartFormat {
		q.Set("smart_format", "true")
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

// JoinWords concatenates words with single spaces. Entries that carry no
// "word" field are skipped.
func JoinWords(words []Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if w.Word == nil {
			continue
		}
		parts = append(parts, *w.Word)
	}
	return strings.Join(parts, " ")
}

// Word is one recognised token. Word is nil when the entry had no "word" key.
type Word struct {
	Word           *string `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
}

// ListenV1Response is the prerecorded /v1/listen response body.
type ListenV1Response struct {
	Metadata struct {
		RequestID string  `json:"request_id"`
		Created   string  `json:"created"`
		Duration  float64 `json:"duration"`
		Channels  int     `json:"channels"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []Word  `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}
