package mode

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/fr-go/codec"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/notify"
	"github.com/khaledhikmat/fr-go/service/queue"
	"go.viam.com/test"
)

type memoryData struct {
	mu              sync.Mutex
	detectorStats   []model.DetectorStats
	recognizerStats []model.RecognizerStats
	errs            []interface{}
	letters         []model.DeadLetter
}

func (m *memoryData) NewError(err interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return nil
}

func (m *memoryData) NewDetectorStats(s model.DetectorStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detectorStats = append(m.detectorStats, s)
	return nil
}

func (m *memoryData) NewRecognizerStats(s model.RecognizerStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recognizerStats = append(m.recognizerStats, s)
	return nil
}

func (m *memoryData) NewDeadLetter(l model.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.letters = append(m.letters, l)
	return nil
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	test.That(t, err, test.ShouldBeNil)
	addr := l.Addr().String()
	test.That(t, l.Close(), test.ShouldBeNil)
	return addr
}

func newServices(t *testing.T, dataSvc *memoryData) pipeline.ServicesFactory {
	t.Helper()
	s := config.Defaults()
	s.HTTPAddr = freeAddr(t)
	s.ModeMaxShutdown = 2
	s.ReceiveWait = 50 * time.Millisecond
	s.RecognizerWorkers = 3
	cfg := config.NewFromSettings(s)

	return pipeline.ServicesFactory{
		CfgSvc:     cfg,
		DataSvc:    dataSvc,
		Requests:   queue.NewMemory(nil, cfg.GetVisibilityTimeout()),
		Responses:  queue.NewMemory(nil, cfg.GetVisibilityTimeout()),
		Detector:   inference.NewFakeDetector(),
		Recognizer: inference.NewFakeRecognizer("alice", 0.9),
		NotifySvc:  notify.NewFake(),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecognizerMode(t *testing.T) {
	dataSvc := &memoryData{}
	svcs := newServices(t, dataSvc)

	for i := 0; i < 6; i++ {
		body, err := json.Marshal(model.DetectionMessage{RequestID: "r", FaceIndex: i, Content: codec.Encode([]byte("crop"))})
		test.That(t, err, test.ShouldBeNil)
		_, err = svcs.Requests.Send(context.Background(), body)
		test.That(t, err, test.ShouldBeNil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Recognizer(ctx, svcs)
	}()

	waitFor(t, func() bool { return queue.Len(svcs.Requests) == 0 })
	test.That(t, queue.Len(svcs.Responses), test.ShouldEqual, 6)

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("recognizer mode did not stop")
	}

	dataSvc.mu.Lock()
	defer dataSvc.mu.Unlock()
	acked := 0
	for _, s := range dataSvc.recognizerStats {
		acked += s.Acked
	}
	test.That(t, dataSvc.recognizerStats, test.ShouldHaveLength, 3)
	test.That(t, acked, test.ShouldEqual, 6)
}

func TestRecognizerModeModelLoadFailure(t *testing.T) {
	svcs := newServices(t, &memoryData{})
	svcs.Recognizer = failingLoader{inference.NewFakeRecognizer("alice", 0.9)}

	err := Recognizer(context.Background(), svcs)
	test.That(t, err, test.ShouldNotBeNil)
}

type failingLoader struct {
	*inference.FakeRecognizer
}

func (failingLoader) Load() error { return fmt.Errorf("%w: models missing", inference.ErrCollaborator) }

func TestDetectorModeStopsOnCancel(t *testing.T) {
	dataSvc := &memoryData{}
	svcs := newServices(t, dataSvc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Detector(ctx, svcs)
	}()

	waitFor(t, func() bool {
		conn, err := net.Dial("tcp", svcs.CfgSvc.GetHTTPAddr())
		if err != nil {
			return false
		}
		conn.Close()
		return true
	})

	cancel()
	select {
	case err := <-done:
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(5 * time.Second):
		t.Fatal("detector mode did not stop")
	}

	dataSvc.mu.Lock()
	defer dataSvc.mu.Unlock()
	test.That(t, dataSvc.detectorStats, test.ShouldHaveLength, 1)
}

func TestDetectorModeListenFailure(t *testing.T) {
	svcs := newServices(t, &memoryData{})

	l, err := net.Listen("tcp", svcs.CfgSvc.GetHTTPAddr())
	test.That(t, err, test.ShouldBeNil)
	defer l.Close()

	err = Detector(context.Background(), svcs)
	test.That(t, err, test.ShouldNotBeNil)
}
