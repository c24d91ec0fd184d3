package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/fr-go/codec"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

const faceLimitExceeded = "face limit exceeded"

// Response is what the detection stage answers to the caller.
type Response struct {
	Status int
	Body   interface{}
}

type detectionCounters struct {
	requests      atomic.Int64
	clientErrors  atomic.Int64
	serverErrors  atomic.Int64
	facesDetected atomic.Int64
	facesQueued   atomic.Int64
	queueErrors   atomic.Int64
	procNanos     atomic.Int64
}

// Detection turns a frame submission into one request channel message per
// detected face. It holds no per-request state and is safe for concurrent use.
type Detection struct {
	svcs        ServicesFactory
	errorStream chan interface{}
	counters    detectionCounters
}

func NewDetection(svcs ServicesFactory, errorStream chan interface{}) *Detection {
	return &Detection{
		svcs:        svcs,
		errorStream: errorStream,
	}
}

func (d *Detection) Handle(ctx context.Context, sub model.FrameSubmission) Response {
	ctx, span := tracer.Start(ctx, "detection.handle")
	defer span.End()
	span.SetAttributes(attribute.String("request_id", sub.RequestID))

	start := time.Now()
	d.counters.requests.Inc()
	defer func() {
		d.counters.procNanos.Add(int64(time.Since(start)))
	}()

	if err := sub.Validate(); err != nil {
		return d.clientError(http.StatusBadRequest, sub.RequestID, err.Error())
	}

	frame, err := codec.Decode(sub.Content)
	if err != nil {
		return d.clientError(http.StatusBadRequest, sub.RequestID, "content is not valid base64")
	}

	if limit := d.svcs.CfgSvc.GetMaxFrameBytes(); limit > 0 && len(frame) > limit {
		return d.clientError(http.StatusRequestEntityTooLarge, sub.RequestID, "frame exceeds the maximum size")
	}

	crops, err := d.detect(ctx, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detection failed")
		d.counters.serverErrors.Inc()

		status, reason := http.StatusInternalServerError, "face detection failed"
		if errors.Is(err, context.DeadlineExceeded) {
			status, reason = http.StatusGatewayTimeout, "face detection timed out"
		}

		lgr.Logger.ErrorContext(ctx,
			"detection collaborator failed",
			slog.String("request_id", sub.RequestID),
			slog.Int("status", status),
			slog.Any("error", lgr.Stack(err)),
		)
		report(d.errorStream, model.GenError("detection", err, map[string]interface{}{
			"request_id": sub.RequestID,
		}, "detection failed for request %s", sub.RequestID))

		return Response{
			Status: status,
			Body:   model.ErrorBody{RequestID: sub.RequestID, Error: reason},
		}
	}

	summary, queueFailures := d.enqueue(ctx, sub, crops)
	span.SetAttributes(
		attribute.Int("faces_detected", summary.FacesDetected),
		attribute.Int("faces_queued", summary.FacesQueued),
	)

	// Crops over the face limit are listed in the summary but are the frame's
	// doing, so only channel failures turn the answer into a server error.
	if queueFailures > 0 {
		span.SetStatus(codes.Error, "partial enqueue")
		d.counters.serverErrors.Inc()
		return Response{Status: http.StatusBadGateway, Body: summary}
	}

	return Response{Status: http.StatusOK, Body: summary}
}

// detect bounds the collaborator call with the configured timeout. A
// collaborator that ignores its context is abandoned once the deadline passes.
func (d *Detection) detect(ctx context.Context, frame []byte) ([][]byte, error) {
	ctx, span := tracer.Start(ctx, "detection.detect")
	defer span.End()

	if timeout := d.svcs.CfgSvc.GetDetectTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type detectResult struct {
		crops [][]byte
		err   error
	}

	done := make(chan detectResult, 1)
	go func() {
		crops, err := d.svcs.Detector.Detect(ctx, frame)
		done <- detectResult{crops: crops, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, xerrors.Errorf("detect: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return nil, xerrors.Errorf("detect: %w", r.err)
		}
		return r.crops, nil
	}
}

// enqueue queues every crop within the face limit and returns the summary with
// the number of crops the request channel refused.
func (d *Detection) enqueue(ctx context.Context, sub model.FrameSubmission, crops [][]byte) (model.IntakeSummary, int) {
	summary := model.IntakeSummary{
		RequestID:     sub.RequestID,
		FacesDetected: len(crops),
	}
	d.counters.facesDetected.Add(int64(len(crops)))

	maxFaces := d.svcs.CfgSvc.GetMaxFacesPerFrame()

	var errs error
	queueFailures := 0
	for i, crop := range crops {
		if maxFaces > 0 && i >= maxFaces {
			summary.Failures = append(summary.Failures, model.QueueFailure{FaceIndex: i, Error: faceLimitExceeded})
			continue
		}

		msg := model.DetectionMessage{
			RequestID: sub.RequestID,
			FaceIndex: i,
			Content:   codec.Encode(crop),
		}

		if err := d.send(ctx, msg); err != nil {
			errs = multierr.Append(errs, xerrors.Errorf("face %d: %w", i, err))
			summary.Failures = append(summary.Failures, model.QueueFailure{FaceIndex: i, Error: err.Error()})
			queueFailures++
			continue
		}
		summary.FacesQueued++
	}

	d.counters.facesQueued.Add(int64(summary.FacesQueued))

	if errs != nil {
		failed := multierr.Errors(errs)
		d.counters.queueErrors.Add(int64(len(failed)))
		lgr.Logger.ErrorContext(ctx,
			"failed to enqueue detected faces",
			slog.String("request_id", sub.RequestID),
			slog.Int("failed", len(failed)),
			slog.Any("error", lgr.Stack(errs)),
		)
		report(d.errorStream, model.GenError("detection", errs, map[string]interface{}{
			"request_id": sub.RequestID,
			"failed":     len(failed),
		}, "enqueue failed for request %s", sub.RequestID))
	}

	if dropped := len(crops) - maxFaces; maxFaces > 0 && dropped > 0 {
		lgr.Logger.WarnContext(ctx,
			"frame exceeds the face limit",
			slog.String("request_id", sub.RequestID),
			slog.Int("dropped", dropped),
		)
	}

	return summary, queueFailures
}

func (d *Detection) send(ctx context.Context, msg model.DetectionMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = d.svcs.Requests.Send(ctx, body)
	return err
}

func (d *Detection) clientError(status int, requestID, reason string) Response {
	d.counters.clientErrors.Inc()
	return Response{
		Status: status,
		Body:   model.ErrorBody{RequestID: requestID, Error: reason},
	}
}

// Stats snapshots the counters accumulated since the stage was created.
func (d *Detection) Stats() model.DetectorStats {
	stats := model.DetectorStats{
		Requests:      d.counters.requests.Load(),
		ClientErrors:  d.counters.clientErrors.Load(),
		ServerErrors:  d.counters.serverErrors.Load(),
		FacesDetected: d.counters.facesDetected.Load(),
		FacesQueued:   d.counters.facesQueued.Load(),
		QueueErrors:   d.counters.queueErrors.Load(),
	}
	if stats.Requests > 0 {
		stats.AvgProcTime = time.Duration(d.counters.procNanos.Load()).Seconds() / float64(stats.Requests)
	}
	return stats
}
