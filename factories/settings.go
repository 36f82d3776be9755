package factories

import (
	"errors"
	"fmt"
	"os"

	deepgramstt "jarvis/services/deepgram/stt"
	elevenlabs "jarvis/services/elevenlabs/tts"
	openaillm "jarvis/services/openai/llm"
	"jarvis/services/sox"
	"jarvis/utils/retry"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPersona is the system prompt the assistant starts every conversation with.
const DefaultPersona = "You are the Farming Voice Assistant. Keep replies to 1–2 short sentences."

// Env is read from the process environment after the .env file is loaded.
type Env struct {
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	LLMAPIKey        string `env:"LLM_API_KEY"`
	DeepgramAPIKey   string `env:"DEEPGRAM_API_KEY"`
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`

	SettingsPath    string `env:"SETTINGS_PATH" envDefault:"settings.yaml"`
	RecordingPath   string `env:"RECORDING_PATH" envDefault:"audio/recording.wav"`
	ResponsePath    string `env:"RESPONSE_PATH" envDefault:"audio/response.wav"`
	ConversationLog string `env:"CONVERSATION_LOG" envDefault:"conv.txt"`
	StatusFile      string `env:"STATUS_FILE" envDefault:"status.txt"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	SessionLogDir   string `env:"SESSION_LOG_DIR"`
	RedisAddr       string `env:"REDIS_ADDR"`
	RedisPassword   string `env:"REDIS_PASSWORD"`
	MetricsTextfile string `env:"METRICS_TEXTFILE"`
}

// LLMAPIKeyValue returns GEMINI_API_KEY, falling back to LLM_API_KEY.
func (e Env) LLMAPIKeyValue() string {
	if e.GeminiAPIKey != "" {
		return e.GeminiAPIKey
	}
	return e.LLMAPIKey
}

// Settings is the optional YAML settings file. Fields missing from the file
// keep their defaults.
type Settings struct {
	Persona       string                         `yaml:"persona"`
	AssistantName string                         `yaml:"assistant_name"`
	LLM           LLMFactoryConfig               `yaml:"llm"`
	STT           deepgramstt.DeepgramConfig     `yaml:"stt"`
	TTS           elevenlabs.ElevenLabsTTSConfig `yaml:"tts"`
	Recorder      sox.RecorderConfig             `yaml:"recorder"`
	Player        sox.PlayerConfig               `yaml:"player"`
}

// DefaultSettings returns Settings pre-filled with provider defaults.
func DefaultSettings() Settings {
	return Settings{
		Persona:       DefaultPersona,
		AssistantName: "JARVIS",
		LLM: LLMFactoryConfig{
			Provider: ProviderGemini,
			Config: openaillm.Config{
				Retry:            retry.DefaultPolicy(),
				TransientMarkers: append([]string(nil), openaillm.DefaultTransientMarkers...),
			},
		},
		STT:      *deepgramstt.DefaultConfig(),
		TTS:      elevenlabs.DefaultConfig(),
		Recorder: sox.DefaultRecorderConfig(),
		Player:   sox.DefaultPlayerConfig(),
	}
}

// Validate checks every section and returns the first problem found.
func (s Settings) Validate() error {
	if s.AssistantName == "" {
		return errors.New("settings: assistant_name is required")
	}
	if err := s.LLM.Validate(); err != nil {
		return fmt.Errorf("settings: llm: %w", err)
	}
	if s.STT.BaseURL == "" {
		return errors.New("settings: stt: base_url is required")
	}
	if err := s.TTS.Validate(); err != nil {
		return fmt.Errorf("settings: tts: %w", err)
	}
	if err := s.Recorder.Validate(); err != nil {
		return fmt.Errorf("settings: recorder: %w", err)
	}
	if err := s.Player.Validate(); err != nil {
		return fmt.Errorf("settings: player: %w", err)
	}
	return nil
}

// SettingsFromYAML decodes data over the defaults.
func SettingsFromYAML(data []byte) (Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// Config is the fully resolved configuration of one run.
type Config struct {
	Env      Env
	Settings Settings
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile      string
	SettingsPath string
	LogLevel     string
}

// Load reads configuration from the .env file, environment variables, the
// settings file and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %q: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(&cfg.Env); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if overrides.LogLevel != "" {
		cfg.Env.LogLevel = overrides.LogLevel
	}

	// an explicitly requested settings file must exist
	settingsPath := cfg.Env.SettingsPath
	explicit := false
	if overrides.SettingsPath != "" {
		settingsPath = overrides.SettingsPath
		explicit = true
	}
	settings, err := loadSettings(settingsPath, explicit)
	if err != nil {
		return nil, err
	}

	settings.LLM.APIKey = cfg.Env.LLMAPIKeyValue()
	settings.STT.APIKey = cfg.Env.DeepgramAPIKey
	settings.TTS.APIKey = cfg.Env.ElevenLabsAPIKey
	if err := settings.LLM.applyProviderDefaults(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	cfg.Settings = settings
	return cfg, nil
}

func loadSettings(path string, explicit bool) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsFromYAML(data)
}

// RequireAPIKeys reports every missing hosted-service key at once.
func (c *Config) RequireAPIKeys() error {
	var errs []error
	if c.Settings.LLM.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY (or LLM_API_KEY) is not set"))
	}
	if c.Settings.STT.APIKey == "" {
		errs = append(errs, errors.New("DEEPGRAM_API_KEY is not set"))
	}
	if c.Settings.TTS.APIKey == "" {
		errs = append(errs, errors.New("ELEVENLABS_API_KEY is not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
