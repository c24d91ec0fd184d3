package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/telemetry"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

var (
	cfgPath       string
	cfgSvc        config.IService
	traceShutdown func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:           "fr-go",
	Short:         "Two-stage face detection and recognition pipeline",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Load env vars if we are in DEV mode
		if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				lgr.Logger.Error("error loading .env file", slog.Any("error", lgr.Stack(err)))
				return err
			}
		}

		var err error
		cfgSvc, err = config.New(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		lgr.Init(lgr.Options{
			Level: cfgSvc.GetLogLevel(),
			File:  cfgSvc.GetLogFile(),
			Dev:   cfgSvc.IsDev(),
		})

		traceShutdown, err = telemetry.Init(telemetry.Options{
			ServiceName: "fr-go",
			Version:     Version,
			Exporter:    cfgSvc.GetTraceExporter(),
		})
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		return nil
	},
}

// flushTraces exports spans still buffered by the tracer provider.
func flushTraces() {
	if traceShutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := traceShutdown(ctx); err != nil {
		lgr.Logger.Warn("failed to flush traces", slog.Any("error", err))
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	flushTraces()
	if err != nil {
		lgr.Logger.Error("command failed", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML configuration file (environment variables override it)")
}
