package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/fr-go/mode"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/spf13/cobra"
)

// WARNING: this has to be bigger than the mode processor shutdown time
const waitOnShutdownMargin = 3 * time.Second

var detectorCmd = &cobra.Command{
	Use:   "detector",
	Short: "Serve the intake endpoint and enqueue detected faces",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), "detector", mode.Detector, stageNeeds{detection: true})
	},
}

var recognizerCmd = &cobra.Command{
	Use:   "recognizer",
	Short: "Classify queued faces and publish results on the response channel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), "recognizer", mode.Recognizer, stageNeeds{recognition: true})
	},
}

var standaloneCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run detection and recognition in one process",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMode(cmd.Context(), "standalone", mode.Standalone, stageNeeds{detection: true, recognition: true})
	},
}

func runMode(canxCtx context.Context, name string, modeProc mode.Processor, needs stageNeeds) error {
	svcs, cleanup, err := buildServices(canxCtx, cfgSvc, needs)
	defer cleanup()
	if err != nil {
		return err
	}

	// Start the mode processor
	modeProcResult := make(chan error, 1)
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or the mode proc
	select {
	case <-canxCtx.Done():
		lgr.Logger.Info(
			"pod context cancelled",
			slog.String("mode", name),
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Error(
				"mode processor exited",
				slog.String("mode", name),
				slog.Any("error", lgr.Stack(err)),
			)
		}
		return err
	}

	// The mode processor owns its own shutdown period; give it a margin on top.
	waitOnShutdown := time.Duration(cfgSvc.GetModeMaxShutdownTime())*time.Second + waitOnShutdownMargin
	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"pod shutdown waiting period expired. Exiting now",
			slog.String("mode", name),
			slog.Duration("period", waitOnShutdown),
		)
		return nil

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Error(
				"mode processor exited",
				slog.String("mode", name),
				slog.Any("error", lgr.Stack(err)),
			)
		}
		return err
	}
}

func init() {
	rootCmd.AddCommand(detectorCmd, recognizerCmd, standaloneCmd)
}
