package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/casualjim/chatwire/internal/config"
	"github.com/casualjim/chatwire/pkg/slogx"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var log zerolog.Logger

var (
	configPath string
	envFiles   []string
	cfg        *config.Config

	rootCmd = &cobra.Command{
		Use:          "chatwire",
		Short:        "Chat with local and hosted language models from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnv(envFiles...); err != nil {
				return err
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			setLogLevel(cfg.Log.SlogLevel())
			return nil
		},
	}
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	setLogLevel(slog.LevelInfo)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.toml (defaults to $"+config.EnvConfigPath+")")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files holding provider API keys")
	rootCmd.AddCommand(chatCmd, conversationsCmd, modelsCmd)
}

func setLogLevel(level slog.Level) {
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: level}),
	))
}

func main() {
	if err := execute(); err != nil {
		slog.Error("chatwire failed", slogx.Error(err))
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
