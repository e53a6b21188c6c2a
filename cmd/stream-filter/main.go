package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"streamfilter/internal/config"
	"streamfilter/internal/constants"
	"streamfilter/internal/filtering"
	"streamfilter/internal/logger"
	"streamfilter/pkg/codec"
	"streamfilter/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stream-filter",
		Short: "Payload filtering for stream subscriptions",
		Long:  "Stream Filter reads stream messages, evaluates each subscription's filter against the decoded payload and forwards the message or its redacted form",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(earlyLog *logging.EarlyLog) (*config.Config, error) {
	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, err
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the stream filter service",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLogTo(cmd.ErrOrStderr())

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx = logging.WithServiceName(ctx, constants.ServiceName)

			log.InfowCtx(ctx, "Starting Stream Filter")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
					log.ErrorwCtx(ctx, "Shutdown after failed start", "error", shutdownErr)
				}
				return err
			}

			log.InfowCtx(ctx, "Service running", "subscriptions", len(cfg.Subscriptions))
			if err := app.Run(ctx); err != nil && err != context.Canceled {
				log.ErrorwCtx(ctx, "Service stopped with error", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Service shutdown complete")
			return nil
		},
	}
}

// checkCmd compiles every configured filter with the configured engine and
// prints what would run, without connecting to any broker.
func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and compile every subscription filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLogTo(cmd.ErrOrStderr())

			cfg, err := loadConfig(earlyLog)
			if err != nil {
				return err
			}

			engine, err := filtering.NewEngine(cfg.Filtering.Engine)
			if err != nil {
				return err
			}
			encoding, err := codec.EncodingByName(cfg.Filtering.PayloadEncoding)
			if err != nil {
				return err
			}

			registry := filtering.NewRegistry(engine, codec.New(encoding), logger.NopLogger())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "engine: %s, payload encoding: %s\n", engine.Name(), encoding.Name())

			var failed int
			for _, sc := range cfg.Subscriptions {
				sub, err := registry.SubscribeConfig(cmd.Context(), sc)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", sc.Name, err)
					continue
				}
				expr := sub.Expression()
				if sub.Filter.Program().IsPassThrough() {
					expr = "(pass-through)"
				}
				fmt.Fprintf(out, "ok   %s: %s %s -> %s %s: %s\n",
					sub.Name, sc.Source.Type, sc.Source.Target(), sc.Sink.Type, sc.Sink.Target(), expr)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d subscriptions failed to compile", failed, len(cfg.Subscriptions))
			}
			return nil
		},
	}
}
