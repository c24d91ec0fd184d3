package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"golang.org/x/xerrors"
)

// ErrInvalidInput marks a submission or message whose shape is wrong. It is
// never retried.
var ErrInvalidInput = errors.New("invalid input")

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

// FrameSubmission is the intake unit posted by a client.
type FrameSubmission struct {
	RequestID string `json:"request_id"`
	Filename  string `json:"filename"`
	Content   string `json:"content"` // base64
}

func (s FrameSubmission) Validate() error {
	if s.RequestID == "" {
		return xerrors.Errorf("%w: missing request_id", ErrInvalidInput)
	}
	if s.Content == "" {
		return xerrors.Errorf("%w: missing content", ErrInvalidInput)
	}
	return nil
}

// DetectionMessage carries one detected face crop on the request channel.
type DetectionMessage struct {
	RequestID string `json:"request_id"`
	FaceIndex int    `json:"face_index"`
	Content   string `json:"content"` // base64
}

func (m DetectionMessage) Validate() error {
	if m.RequestID == "" {
		return xerrors.Errorf("%w: missing request_id", ErrInvalidInput)
	}
	if m.FaceIndex < 0 {
		return xerrors.Errorf("%w: negative face_index %d", ErrInvalidInput, m.FaceIndex)
	}
	return nil
}

// ParseDetectionMessage decodes a request channel body and validates it. The
// content field is not decoded here.
func ParseDetectionMessage(body []byte) (DetectionMessage, error) {
	var msg DetectionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return DetectionMessage{}, xerrors.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := msg.Validate(); err != nil {
		return DetectionMessage{}, err
	}
	return msg, nil
}

// RecognitionResult is the final per-face outcome put on the response channel.
// Either Error is set, or both Label and Confidence are.
type RecognitionResult struct {
	RequestID  string   `json:"request_id"`
	FaceIndex  int      `json:"face_index"`
	Label      *string  `json:"label"`
	Confidence *float64 `json:"confidence"`
	Error      *string  `json:"error"`
}

func NewRecognizedResult(msg DetectionMessage, label string, confidence float64) RecognitionResult {
	return RecognitionResult{
		RequestID:  msg.RequestID,
		FaceIndex:  msg.FaceIndex,
		Label:      &label,
		Confidence: &confidence,
	}
}

func NewFailedResult(msg DetectionMessage, reason string) RecognitionResult {
	return RecognitionResult{
		RequestID: msg.RequestID,
		FaceIndex: msg.FaceIndex,
		Error:     &reason,
	}
}

func (r RecognitionResult) Validate() error {
	if r.RequestID == "" {
		return xerrors.Errorf("%w: missing request_id", ErrInvalidInput)
	}

	if r.Error != nil {
		if r.Label != nil || r.Confidence != nil {
			return xerrors.Errorf("%w: failed result carries a label", ErrInvalidInput)
		}
		return nil
	}

	if r.Label == nil || r.Confidence == nil {
		return xerrors.Errorf("%w: result has neither error nor label/confidence", ErrInvalidInput)
	}
	return nil
}

// Succeeded reports whether the face was classified.
func (r RecognitionResult) Succeeded() bool {
	return r.Error == nil
}

// ParseRecognitionResult decodes a response channel body and validates it.
func ParseRecognitionResult(body []byte) (RecognitionResult, error) {
	var r RecognitionResult
	if err := json.Unmarshal(body, &r); err != nil {
		return RecognitionResult{}, xerrors.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := r.Validate(); err != nil {
		return RecognitionResult{}, err
	}
	return r, nil
}

type QueueFailure struct {
	FaceIndex int    `json:"face_index"`
	Error     string `json:"error"`
}

// IntakeSummary is the body returned by the detection stage once detection ran.
type IntakeSummary struct {
	RequestID     string         `json:"request_id"`
	FacesDetected int            `json:"faces_detected"`
	FacesQueued   int            `json:"faces_queued"`
	Failures      []QueueFailure `json:"failures,omitempty"`
}

type ErrorBody struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

// Identity is one labelled face descriptor of the known-identity gallery.
type Identity struct {
	Name       string    `json:"name"`
	Descriptor []float32 `json:"descriptor"`
}

// DeadLetter records a message the recognition stage gave up on.
type DeadLetter struct {
	MessageID    string `json:"messageId"`
	RequestID    string `json:"requestId,omitempty"`
	FaceIndex    int    `json:"faceIndex"`
	ReceiveCount int    `json:"receiveCount"`
	Reason       string `json:"reason"`
	Body         string `json:"body,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

type DetectorStats struct {
	Requests      int64   `json:"requests"`
	ClientErrors  int64   `json:"clientErrors"`
	ServerErrors  int64   `json:"serverErrors"`
	FacesDetected int64   `json:"facesDetected"`
	FacesQueued   int64   `json:"facesQueued"`
	QueueErrors   int64   `json:"queueErrors"`
	Uptime        int64   `json:"uptime"`
	AvgProcTime   float64 `json:"avgProcTime"`
	Timestamp     int64   `json:"timestamp"`
}

type RecognizerStats struct {
	Name         string  `json:"name"`
	Worker       int     `json:"worker"`
	Messages     int     `json:"messages"`
	Acked        int     `json:"acked"`
	Nacked       int     `json:"nacked"`
	DeadLettered int     `json:"deadLettered"`
	Uptime       int64   `json:"uptime"`
	AvgProcTime  float64 `json:"avgProcTime"`
	Timestamp    int64   `json:"timestamp"`
}
