package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/khaledhikmat/fr-go/codec"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/telemetry"
	"go.opentelemetry.io/otel"
	"go.viam.com/test"
)

func cropsDetector(crops ...string) *inference.FakeDetector {
	d := inference.NewFakeDetector()
	d.DetectFunc = func(_ context.Context, _ []byte) ([][]byte, error) {
		out := make([][]byte, 0, len(crops))
		for _, c := range crops {
			out = append(out, []byte(c))
		}
		return out, nil
	}
	return d
}

func newDetectionFixture(detector inference.Detector, mutate func(*config.Settings)) (*Detection, *recordingQueue, chan interface{}) {
	requests := newRecordingQueue("requests", &opLog{}, clock.NewMock())
	errorStream := make(chan interface{}, 10)
	stage := NewDetection(ServicesFactory{
		CfgSvc:   testConfig(mutate),
		Requests: requests,
		Detector: detector,
	}, errorStream)
	return stage, requests, errorStream
}

func TestDetectionTwoFaces(t *testing.T) {
	stage, requests, _ := newDetectionFixture(cropsDetector("face-a", "face-b"), nil)

	resp := stage.Handle(context.Background(), model.FrameSubmission{
		RequestID: "1",
		Filename:  "frame1.jpg",
		Content:   codec.Encode([]byte("two-face-image")),
	})

	test.That(t, resp.Status, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Body, test.ShouldResemble, model.IntakeSummary{
		RequestID:     "1",
		FacesDetected: 2,
		FacesQueued:   2,
	})

	msgs := detectionMessages(t, requests.drain(t))
	test.That(t, msgs, test.ShouldHaveLength, 2)
	for i, msg := range msgs {
		test.That(t, msg.RequestID, test.ShouldEqual, "1")
		test.That(t, msg.FaceIndex, test.ShouldEqual, i)
	}
	crop, err := codec.Decode(msgs[1].Content)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(crop), test.ShouldEqual, "face-b")
}

func TestDetectionZeroFaces(t *testing.T) {
	stage, requests, _ := newDetectionFixture(cropsDetector(), nil)

	resp := stage.Handle(context.Background(), model.FrameSubmission{
		RequestID: "empty",
		Content:   codec.Encode([]byte("landscape")),
	})

	test.That(t, resp.Status, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Body, test.ShouldResemble, model.IntakeSummary{RequestID: "empty"})
	test.That(t, requests.drain(t), test.ShouldBeEmpty)
}

func TestDetectionRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		sub    model.FrameSubmission
		status int
	}{
		{"invalid base64", model.FrameSubmission{RequestID: "1", Filename: "frame1.jpg", Content: "not-base64!!"}, http.StatusBadRequest},
		{"missing request id", model.FrameSubmission{Content: codec.Encode([]byte("x"))}, http.StatusBadRequest},
		{"missing content", model.FrameSubmission{RequestID: "1"}, http.StatusBadRequest},
		{"frame too large", model.FrameSubmission{RequestID: "1", Content: codec.Encode([]byte("0123456789"))}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector := cropsDetector("face")
			stage, requests, _ := newDetectionFixture(detector, func(s *config.Settings) {
				s.MaxFrameBytes = 8
			})

			resp := stage.Handle(context.Background(), tt.sub)
			test.That(t, resp.Status, test.ShouldEqual, tt.status)
			body, ok := resp.Body.(model.ErrorBody)
			test.That(t, ok, test.ShouldBeTrue)
			test.That(t, body.Error, test.ShouldNotBeEmpty)

			test.That(t, detector.Calls(), test.ShouldEqual, 0)
			test.That(t, requests.drain(t), test.ShouldBeEmpty)
			test.That(t, stage.Stats().ClientErrors, test.ShouldEqual, 1)
		})
	}
}

func TestDetectionCollaboratorFailure(t *testing.T) {
	detector := inference.NewFakeDetector()
	detector.DetectFunc = func(context.Context, []byte) ([][]byte, error) {
		return nil, fmt.Errorf("%w: model crashed", inference.ErrCollaborator)
	}
	stage, requests, errorStream := newDetectionFixture(detector, nil)

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "1", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, requests.drain(t), test.ShouldBeEmpty)

	reported := <-errorStream
	custom, ok := reported.(model.CustomError)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, custom.Processor, test.ShouldEqual, "detection")
	test.That(t, errors.Is(custom, inference.ErrCollaborator), test.ShouldBeTrue)
}

func TestDetectionTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	detector := inference.NewFakeDetector()
	detector.DetectFunc = func(context.Context, []byte) ([][]byte, error) {
		<-release
		return [][]byte{[]byte("late")}, nil
	}
	stage, requests, _ := newDetectionFixture(detector, func(s *config.Settings) {
		s.DetectTimeout = 20 * time.Millisecond
	})

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "1", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusGatewayTimeout)
	test.That(t, requests.drain(t), test.ShouldBeEmpty)
}

func TestDetectionPartialEnqueueFailure(t *testing.T) {
	stage, requests, errorStream := newDetectionFixture(cropsDetector("a", "b", "c"), nil)
	requests.failAt[1] = errors.New("throttled")

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "r", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusBadGateway)

	summary, ok := resp.Body.(model.IntakeSummary)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, summary.FacesDetected, test.ShouldEqual, 3)
	test.That(t, summary.FacesQueued, test.ShouldEqual, 2)
	test.That(t, summary.Failures, test.ShouldResemble, []model.QueueFailure{{FaceIndex: 1, Error: "throttled"}})

	msgs := detectionMessages(t, requests.drain(t))
	test.That(t, msgs, test.ShouldHaveLength, 2)
	test.That(t, msgs[0].FaceIndex, test.ShouldEqual, 0)
	test.That(t, msgs[1].FaceIndex, test.ShouldEqual, 2)

	test.That(t, <-errorStream, test.ShouldNotBeNil)
	test.That(t, stage.Stats().QueueErrors, test.ShouldEqual, 1)
}

func TestDetectionFaceLimit(t *testing.T) {
	stage, requests, _ := newDetectionFixture(cropsDetector("a", "b", "c"), func(s *config.Settings) {
		s.MaxFacesPerFrame = 2
	})

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "r", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusOK)
	test.That(t, resp.Body, test.ShouldResemble, model.IntakeSummary{
		RequestID:     "r",
		FacesDetected: 3,
		FacesQueued:   2,
		Failures:      []model.QueueFailure{{FaceIndex: 2, Error: faceLimitExceeded}},
	})

	msgs := detectionMessages(t, requests.drain(t))
	test.That(t, msgs, test.ShouldHaveLength, 2)
	test.That(t, stage.Stats().ServerErrors, test.ShouldEqual, 0)
}

func TestDetectionFaceLimitWithChannelFailure(t *testing.T) {
	stage, requests, _ := newDetectionFixture(cropsDetector("a", "b", "c"), func(s *config.Settings) {
		s.MaxFacesPerFrame = 2
	})
	requests.failAt[1] = errors.New("channel unavailable")

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "r", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusBadGateway)
	test.That(t, resp.Body, test.ShouldResemble, model.IntakeSummary{
		RequestID:     "r",
		FacesDetected: 3,
		FacesQueued:   1,
		Failures: []model.QueueFailure{
			{FaceIndex: 1, Error: "channel unavailable"},
			{FaceIndex: 2, Error: faceLimitExceeded},
		},
	})
}

func TestDetectionConcurrentRequests(t *testing.T) {
	stage, requests, _ := newDetectionFixture(cropsDetector("a", "b"), nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := stage.Handle(context.Background(), model.FrameSubmission{
				RequestID: fmt.Sprintf("req-%d", i),
				Content:   codec.Encode([]byte("img")),
			})
			test.That(t, resp.Status, test.ShouldEqual, http.StatusOK)
		}(i)
	}
	wg.Wait()

	perRequest := map[string][]int{}
	for _, msg := range detectionMessages(t, requests.drain(t)) {
		perRequest[msg.RequestID] = append(perRequest[msg.RequestID], msg.FaceIndex)
	}
	test.That(t, perRequest, test.ShouldHaveLength, 10)
	for _, indexes := range perRequest {
		test.That(t, indexes, test.ShouldResemble, []int{0, 1})
	}

	stats := stage.Stats()
	test.That(t, stats.Requests, test.ShouldEqual, 10)
	test.That(t, stats.FacesDetected, test.ShouldEqual, 20)
	test.That(t, stats.FacesQueued, test.ShouldEqual, 20)
}

func TestDetectionLogsCarryTraceIDs(t *testing.T) {
	prevProvider := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prevProvider)
	shutdown, err := telemetry.Init(telemetry.Options{ServiceName: "fr-go-test"})
	test.That(t, err, test.ShouldBeNil)
	defer shutdown(context.Background())

	prevLogger := lgr.Logger
	defer func() { lgr.Logger = prevLogger }()
	var logs bytes.Buffer
	lgr.Init(lgr.Options{Level: "debug", Output: &logs})

	detector := inference.NewFakeDetector()
	detector.DetectFunc = func(context.Context, []byte) ([][]byte, error) {
		return nil, errors.New("model crashed")
	}
	stage, _, _ := newDetectionFixture(detector, nil)

	resp := stage.Handle(context.Background(), model.FrameSubmission{RequestID: "traced", Content: codec.Encode([]byte("img"))})
	test.That(t, resp.Status, test.ShouldEqual, http.StatusInternalServerError)

	test.That(t, logs.String(), test.ShouldContainSubstring, "detection collaborator failed")
	test.That(t, logs.String(), test.ShouldContainSubstring, `"trace_id":"`)
	test.That(t, logs.String(), test.ShouldContainSubstring, `"span_id":"`)
	test.That(t, logs.String(), test.ShouldNotContainSubstring, `"trace_id":"00000000000000000000000000000000"`)
}
