package mode

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/khaledhikmat/fr-go/api"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"golang.org/x/xerrors"
)

// Detector serves the intake endpoint and runs the detection stage for every
// submission until the context is cancelled.
func Detector(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	if err := inference.Warm(svcs.Detector); err != nil {
		return xerrors.Errorf("loading detection model: %w", err)
	}

	errorStream := make(chan interface{}, 100)
	stage := pipeline.NewDetection(svcs, errorStream)

	server := api.NewServer(stage, api.Options{
		Addr:          svcs.CfgSvc.GetHTTPAddr(),
		Rate:          svcs.CfgSvc.GetIntakeRate(),
		Burst:         svcs.CfgSvc.GetIntakeBurst(),
		MaxFrameBytes: svcs.CfgSvc.GetMaxFrameBytes(),
	})

	listener, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return xerrors.Errorf("listening on %s: %w", server.Addr, err)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Serve(listener)
	}()

	lgr.Logger.Info(
		"detector listening",
		slog.String("addr", listener.Addr().String()),
	)

	startTime := time.Now()
	snapshot := func() model.DetectorStats {
		stats := stage.Stats()
		stats.Uptime = int64(time.Since(startTime).Seconds())
		return stats
	}

	periodic := time.NewTicker(periodicTimeout(svcs))
	defer periodic.Stop()

	// Wait for cancellation, server failure, timeout or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"detector context cancelled",
			)
			goto resume

		case err := <-serverErr:
			if !errors.Is(err, http.ErrServerClosed) {
				procStats(svcs.DataSvc, snapshot())
				drain(svcs.DataSvc, nil, errorStream)
				return xerrors.Errorf("intake server stopped: %w", err)
			}
			goto resume

		case <-periodic.C:
			procStats(svcs.DataSvc, snapshot())

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// In-flight submissions finish within the shutdown period; their errors
	// are still recorded.
resume:
	lgr.Logger.Info(
		"detector is waiting for in-flight requests to finish",
	)

	shutdownPeriod := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
	defer cancel()

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- server.Shutdown(shutdownCtx)
	}()

	for {
		select {
		case err := <-shutdownDone:
			drain(svcs.DataSvc, nil, errorStream)
			procStats(svcs.DataSvc, snapshot())
			if err != nil {
				lgr.Logger.Info(
					"detector shutdown waiting period expired. Exiting now",
					slog.Duration("period", shutdownPeriod),
				)
			}
			return nil

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}
