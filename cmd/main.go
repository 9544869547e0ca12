package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"karaoke-bot/internal/apperr"
	"karaoke-bot/internal/config"
)

// exitConfig is EX_CONFIG from sysexits.h.
const exitConfig = 78

func SetupLogger(level slog.Leveler) {
	w := os.Stderr
	logger := slog.New(
		tint.NewHandler(w, &tint.Options{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok {
					aErr := tint.Err(err)
					aErr.Key = a.Key
					return aErr
				}
				return a
			},
		}),
	)
	slog.SetDefault(logger)
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		simulate bool
	)
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "karaoke-bot",
		Short:         "Telegram bot that strips centre-panned vocals from audio files",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			cfg, err := config.LoadFromEnv(v)
			if err != nil {
				return err
			}
			SetupLogger(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				slog.Info("Received termination signal, shutting down")
			}()

			app, err := NewApp(ctx, cfg, simulate)
			if err != nil {
				return err
			}
			return app.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to a .env file (defaults to ./.env when present).")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Run offline with a loopback transport and synthetic traffic.")
	cmd.Flags().String("http-addr", "", "Dashboard listen address (overrides HTTP_ADDR).")
	cmd.Flags().String("log-level", "", "Logging level: debug|info|warn|error (overrides LOG_LEVEL).")
	_ = v.BindPFlag("http_addr", cmd.Flags().Lookup("http-addr"))
	_ = v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))

	return cmd
}

func main() {
	SetupLogger(slog.LevelInfo)
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("karaoke-bot stopped", "error", err)
		if apperr.KindOf(err) == apperr.KindConfig {
			os.Exit(exitConfig)
		}
		os.Exit(1)
	}
}
