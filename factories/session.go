package factories

import (
	"context"
	"fmt"
	"io"
	"os"

	"jarvis/core"
	"jarvis/metrics"
	"jarvis/runner"
	"jarvis/store"
)

// Session is one fully wired run of the assistant loop.
type Session struct {
	ID           string
	Runner       *runner.Runner
	Conversation *core.Conversation
	Metrics      *metrics.Recorder
	Logger       *core.Logger

	closers []func()
}

// BuildSession constructs every service named in cfg and wires them into a
// runner. Optional features (session log, Redis mirror, metrics textfile) are
// enabled only when their env var is set.
func BuildSession(ctx context.Context, cfg *Config, logger *core.Logger, out io.Writer) (*Session, error) {
	if logger == nil {
		logger = core.GetLogger()
	}
	if out == nil {
		out = os.Stdout
	}
	settings := cfg.Settings
	s := &Session{ID: core.NewSessionID()}

	if cfg.Env.SessionLogDir != "" {
		writer, err := core.NewSessionLogWriter(cfg.Env.SessionLogDir, core.SessionMetadata{
			SessionID: s.ID,
			Model:     settings.LLM.Model,
			Voice:     settings.TTS.VoiceID,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, writer.Close)
		logger = core.NewSessionLogger(logger, writer)
		logger.Debug("session log opened", "path", writer.Path())
	}
	logger = logger.With(map[string]interface{}{"session_id": s.ID})
	s.Logger = logger

	s.Metrics = metrics.NewRecorder(cfg.Env.MetricsTextfile, logger)

	llm, err := BuildLLMService(settings.LLM, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("llm service: %w", err)
	}
	llm.OnRetry(s.Metrics.RetryObserved)

	stt, err := BuildSTTService(settings.STT, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("stt service: %w", err)
	}
	tts, err := BuildTTSService(settings.TTS, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("tts service: %w", err)
	}
	recorder, err := BuildRecorder(settings.Recorder, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("recorder: %w", err)
	}
	player, err := BuildPlayer(settings.Player, logger)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("player: %w", err)
	}

	var sink runner.TurnSink
	if cfg.Env.RedisAddr != "" {
		turnStore, err := store.NewTurnStore(ctx, store.Config{
			Addr:     cfg.Env.RedisAddr,
			Password: cfg.Env.RedisPassword,
		}, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, func() { turnStore.Close() })
		sink = turnStore
		if ids, err := turnStore.Sessions(ctx); err != nil {
			logger.Warnf("redis mirror: %v", err)
		} else {
			logger.Debugf("redis mirror holds %d earlier sessions", len(ids))
		}
	}

	s.Conversation = core.NewConversation(settings.Persona)
	s.Runner, err = runner.NewRunner(runner.Options{
		Recorder:      recorder,
		Transcriber:   stt,
		Responder:     llm,
		Synthesizer:   tts,
		Player:        player,
		Status:        core.NewStatusLogger(cfg.Env.StatusFile, logger).EchoTo(out),
		Conversation:  s.Conversation,
		ConvLog:       core.NewConversationLog(cfg.Env.ConversationLog),
		RecordingPath: cfg.Env.RecordingPath,
		ResponsePath:  cfg.Env.ResponsePath,
		AssistantName: settings.AssistantName,
		SessionID:     s.ID,
		Sink:          sink,
		Metrics:       s.Metrics,
		Output:        out,
		Logger:        logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	logger.Info("session ready",
		"provider", settings.LLM.Provider,
		"model", llm.Model(),
		"voice", tts.VoiceID(),
		"redis", cfg.Env.RedisAddr != "",
	)
	return s, nil
}

// Close releases resources in reverse order of acquisition.
func (s *Session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
