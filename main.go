package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"jarvis/core"
	"jarvis/factories"
)

func main() {
	var (
		envFile      string
		settingsPath string
		logLevel     string
		once         bool
	)
	flag.StringVar(&envFile, "env", ".env", "path to the dotenv file")
	flag.StringVar(&settingsPath, "settings", "", "path to the YAML settings file (default $SETTINGS_PATH)")
	flag.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flag.BoolVar(&once, "once", false, "run a single listen-respond-speak iteration and exit")
	flag.Parse()

	if err := run(envFile, settingsPath, logLevel, once); err != nil {
		core.GetLogger().Errorf("jarvis stopped: %v", err)
		core.GetLogger().Sync()
		os.Exit(1)
	}
}

func run(envFile, settingsPath, logLevel string, once bool) error {
	cfg, err := factories.Load(factories.Overrides{
		EnvFile:      envFile,
		SettingsPath: settingsPath,
		LogLevel:     logLevel,
	})
	if err != nil {
		return err
	}

	logger, err := core.NewLoggerForLevel(cfg.Env.LogLevel, cfg.Env.LogFormat)
	if err != nil {
		return err
	}
	core.SetLogger(*logger)
	defer logger.Sync()

	if err := cfg.RequireAPIKeys(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := factories.BuildSession(ctx, cfg, logger, os.Stdout)
	if err != nil {
		return fmt.Errorf("build session: %w", err)
	}
	defer session.Close()

	if once {
		_, err := session.Runner.Step(ctx)
		if err != nil && ctx.Err() != nil {
			return nil
		}
		return err
	}

	err = session.Runner.Run(ctx)
	session.Logger.Infof("shutting down after %d turns", session.Conversation.Len())
	return err
}
