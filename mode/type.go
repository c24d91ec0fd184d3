package mode

import (
	"context"
	"log/slog"
	"time"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/data"
	"github.com/khaledhikmat/fr-go/service/lgr"
)

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.DetectorStats:
		procDetectorStats(datasvc, stats)
	case model.RecognizerStats:
		procRecognizerStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procDetectorStats(datasvc data.IService, stats model.DetectorStats) {
	err := datasvc.NewDetectorStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store detector stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procRecognizerStats(datasvc data.IService, stats model.RecognizerStats) {
	err := datasvc.NewRecognizerStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store recognizer stats",
			slog.Any("stats", stats),
			slog.Any("error", err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			slog.Any("error", errTemp),
		)
	}
}

// drain processes whatever is still buffered on the streams without waiting.
func drain(datasvc data.IService, statsStream, errorStream chan interface{}) {
	for {
		select {
		case s := <-statsStream:
			procStats(datasvc, s)
		case e := <-errorStream:
			procError(datasvc, e)
		default:
			return
		}
	}
}

// emit never blocks: a worker must be able to exit even when nobody reads.
func emit(stream chan interface{}, v interface{}) {
	select {
	case stream <- v:
	default:
		lgr.Logger.Warn(
			"stream is full, dropping item",
			slog.Any("item", v),
		)
	}
}

func periodicTimeout(svcs pipeline.ServicesFactory) time.Duration {
	if secs := svcs.CfgSvc.GetModePeriodicTimeout(); secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}
