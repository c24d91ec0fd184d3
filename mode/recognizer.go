package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/queue"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Recognizer consumes the request channel with a pool of workers until the
// context is cancelled.
func Recognizer(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	if err := inference.Warm(svcs.Recognizer); err != nil {
		return xerrors.Errorf("loading recognition model: %w", err)
	}

	workers := svcs.CfgSvc.GetRecognizerWorkers()
	if workers < 1 {
		workers = 1
	}

	errorStream := make(chan interface{}, 100)
	statsStream := make(chan interface{}, workers*4)

	stage := pipeline.NewRecognition(svcs, errorStream)

	subscription := queue.NewSubscription(svcs.Requests, svcs.CfgSvc.GetReceiveBatch(), svcs.CfgSvc.GetReceiveWait())
	deliveries, err := subscription.Subscribe(canxCtx)
	if err != nil {
		return err
	}

	// Launch worker processes that compete on the deliveries
	var group errgroup.Group
	for i := 0; i < workers; i++ {
		worker := i
		group.Go(func() error {
			runWorker(canxCtx, svcs, stage, worker, deliveries, statsStream)
			return nil
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		workersDone <- group.Wait()
	}()

	lgr.Logger.Info(
		"recognizer started",
		slog.Int("workers", workers),
	)

	// Wait for cancellation, workers, stats or errors
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"recognizer context cancelled",
			)
			goto resume

		case err := <-workersDone:
			// The subscription closed underneath the workers.
			drain(svcs.DataSvc, statsStream, errorStream)
			return err

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Workers finish the delivery they hold; anything not acknowledged
	// reappears on the channel for another consumer.
resume:
	lgr.Logger.Info(
		"recognizer is waiting for all workers to exit",
	)

	if err := subscription.Unsubscribe(); err != nil {
		lgr.Logger.Warn(
			"recognizer unsubscribe failed",
			slog.Any("error", err),
		)
	}

	shutdownPeriod := time.Duration(svcs.CfgSvc.GetModeMaxShutdownTime()) * time.Second
	timer := time.NewTimer(shutdownPeriod)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"recognizer shutdown waiting period expired. Exiting now",
				slog.Duration("period", shutdownPeriod),
			)
			return nil

		case err := <-workersDone:
			drain(svcs.DataSvc, statsStream, errorStream)
			return err

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}
}

func runWorker(canxCtx context.Context, svcs pipeline.ServicesFactory, stage *pipeline.Recognition, worker int, deliveries <-chan queue.Delivery, statsStream chan interface{}) {
	beginTime := time.Now()
	stats := model.RecognizerStats{
		Name:   "recognizer",
		Worker: worker,
	}
	var totalProcTime time.Duration

	snapshot := func() model.RecognizerStats {
		s := stats
		s.Uptime = int64(time.Since(beginTime).Seconds())
		if s.Messages > 0 {
			s.AvgProcTime = totalProcTime.Seconds() / float64(s.Messages)
		}
		return s
	}

	defer func() {
		emit(statsStream, snapshot())
	}()

	periodic := time.NewTicker(periodicTimeout(svcs))
	defer periodic.Stop()

	// A delivery already taken is handled to completion even during shutdown.
	handleCtx := context.WithoutCancel(canxCtx)

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				lgr.Logger.Info(
					"recognizer worker subscription closed",
					slog.Int("worker", worker),
				)
				return
			}

			start := time.Now()
			outcome := stage.Handle(handleCtx, d)
			totalProcTime += time.Since(start)

			stats.Messages++
			switch outcome {
			case pipeline.Acked:
				stats.Acked++
			case pipeline.Nacked:
				stats.Nacked++
			case pipeline.DeadLettered:
				stats.DeadLettered++
			}

			lgr.Logger.Debug(
				"recognizer worker handled delivery",
				slog.Int("worker", worker),
				slog.String("message_id", d.ID),
				slog.String("outcome", outcome.String()),
			)

		case <-periodic.C:
			emit(statsStream, snapshot())
		}
	}
}
