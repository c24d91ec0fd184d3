package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/khaledhikmat/fr-go/codec"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/xerrors"
)

const (
	reasonMaxRedeliveries = "max redeliveries exceeded"
	reasonBadContent      = "content is not valid base64"
	reasonEmptyContent    = "content is empty"
)

// Outcome tells the caller what happened to a delivery.
type Outcome int

const (
	// Acked: a result was enqueued and the delivery removed from the channel.
	Acked Outcome = iota
	// Nacked: the delivery is left for redelivery once it becomes visible again.
	Nacked
	// DeadLettered: the delivery was given up on and removed.
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Acked:
		return "acked"
	case Nacked:
		return "nacked"
	case DeadLettered:
		return "dead-lettered"
	default:
		return "unknown"
	}
}

// Recognition classifies one face crop per delivery and publishes the result
// on the response channel. A delivery is acknowledged only after its result was
// accepted by the response channel.
type Recognition struct {
	svcs        ServicesFactory
	errorStream chan interface{}
}

func NewRecognition(svcs ServicesFactory, errorStream chan interface{}) *Recognition {
	return &Recognition{
		svcs:        svcs,
		errorStream: errorStream,
	}
}

func (r *Recognition) Handle(ctx context.Context, d queue.Delivery) Outcome {
	ctx, span := tracer.Start(ctx, "recognition.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("message_id", d.ID),
		attribute.Int("receive_count", d.ReceiveCount),
	)

	msg, err := model.ParseDetectionMessage(d.Body)
	if err != nil {
		// Nothing to correlate a result with.
		lgr.Logger.WarnContext(ctx,
			"unusable detection message",
			slog.String("message_id", d.ID),
			slog.Any("error", err),
		)
		r.deadLetter(d, model.DetectionMessage{}, err.Error())
		return r.ack(ctx, d, DeadLettered)
	}
	span.SetAttributes(
		attribute.String("request_id", msg.RequestID),
		attribute.Int("face_index", msg.FaceIndex),
	)

	if limit := r.svcs.CfgSvc.GetMaxReceiveCount(); limit > 0 && d.ReceiveCount > limit {
		if err := r.respond(ctx, model.NewFailedResult(msg, reasonMaxRedeliveries)); err != nil {
			return r.nack(ctx, d, msg, err)
		}
		r.deadLetter(d, msg, reasonMaxRedeliveries)
		return r.ack(ctx, d, DeadLettered)
	}

	crop, err := codec.Decode(msg.Content)
	if err != nil || len(crop) == 0 {
		reason := reasonBadContent
		if err == nil {
			reason = reasonEmptyContent
		}
		// Malformed content never gets better: answer once and drop it.
		if err := r.respond(ctx, model.NewFailedResult(msg, reason)); err != nil {
			return r.nack(ctx, d, msg, err)
		}
		return r.ack(ctx, d, Acked)
	}

	label, confidence, err := r.classify(ctx, crop)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		return r.nack(ctx, d, msg, err)
	}

	if err := r.respond(ctx, model.NewRecognizedResult(msg, label, confidence)); err != nil {
		return r.nack(ctx, d, msg, err)
	}

	return r.ack(ctx, d, Acked)
}

func (r *Recognition) classify(ctx context.Context, crop []byte) (string, float64, error) {
	ctx, span := tracer.Start(ctx, "recognition.classify")
	defer span.End()

	label, confidence, err := r.svcs.Recognizer.Classify(ctx, crop)
	if err != nil {
		return "", 0, xerrors.Errorf("classify: %w", err)
	}
	return label, confidence, nil
}

// respond enqueues the result on the response channel and then mirrors it to
// the notifier. Only the response channel decides success.
func (r *Recognition) respond(ctx context.Context, result model.RecognitionResult) error {
	if err := result.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(result)
	if err != nil {
		return xerrors.Errorf("marshal result: %w", err)
	}

	if _, err := r.svcs.Responses.Send(ctx, body); err != nil {
		return xerrors.Errorf("send result: %w", err)
	}

	if r.svcs.NotifySvc != nil {
		if err := r.svcs.NotifySvc.Publish(ctx, result); err != nil {
			lgr.Logger.WarnContext(ctx,
				"failed to mirror result to notifier",
				slog.String("request_id", result.RequestID),
				slog.Int("face_index", result.FaceIndex),
				slog.Any("error", err),
			)
		}
	}

	return nil
}

func (r *Recognition) ack(ctx context.Context, d queue.Delivery, outcome Outcome) Outcome {
	err := r.svcs.Requests.Ack(ctx, d)
	if err == nil {
		return outcome
	}

	if errors.Is(err, queue.ErrReceiptInvalid) {
		// The message was reclaimed and may be processed again; consumers of
		// the response channel tolerate the duplicate.
		lgr.Logger.WarnContext(ctx,
			"delivery was reclaimed before ack, a duplicate result is possible",
			slog.String("message_id", d.ID),
			slog.Any("error", err),
		)
		return outcome
	}

	lgr.Logger.ErrorContext(ctx,
		"failed to ack delivery",
		slog.String("message_id", d.ID),
		slog.Any("error", lgr.Stack(err)),
	)
	report(r.errorStream, model.GenError("recognition", err, map[string]interface{}{
		"message_id": d.ID,
	}, "ack failed for message %s", d.ID))
	return Nacked
}

// nack leaves the delivery in flight; it reappears once its visibility
// timeout expires.
func (r *Recognition) nack(ctx context.Context, d queue.Delivery, msg model.DetectionMessage, err error) Outcome {
	lgr.Logger.ErrorContext(ctx,
		"recognition failed, leaving message for redelivery",
		slog.String("message_id", d.ID),
		slog.String("request_id", msg.RequestID),
		slog.Int("face_index", msg.FaceIndex),
		slog.Int("receive_count", d.ReceiveCount),
		slog.Any("error", lgr.Stack(err)),
	)
	report(r.errorStream, model.GenError("recognition", err, map[string]interface{}{
		"message_id":    d.ID,
		"request_id":    msg.RequestID,
		"face_index":    msg.FaceIndex,
		"receive_count": d.ReceiveCount,
	}, "recognition failed for message %s", d.ID))
	return Nacked
}

func (r *Recognition) deadLetter(d queue.Delivery, msg model.DetectionMessage, reason string) {
	letter := model.DeadLetter{
		MessageID:    d.ID,
		RequestID:    msg.RequestID,
		FaceIndex:    msg.FaceIndex,
		ReceiveCount: d.ReceiveCount,
		Reason:       reason,
	}
	if msg.RequestID == "" {
		letter.Body = string(d.Body)
	}

	if r.svcs.DataSvc == nil {
		return
	}
	if err := r.svcs.DataSvc.NewDeadLetter(letter); err != nil {
		lgr.Logger.Error(
			"failed to record dead letter",
			slog.String("message_id", d.ID),
			slog.Any("error", err),
		)
	}
}
