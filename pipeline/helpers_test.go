package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/data"
	"github.com/khaledhikmat/fr-go/service/queue"
	"go.viam.com/test"
)

// opLog records channel operations across queues in the order they happen.
type opLog struct {
	mu  sync.Mutex
	ops []string
}

func (l *opLog) add(op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
}

func (l *opLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

// recordingQueue wraps a memory queue, logs successful operations and can be
// told to fail.
type recordingQueue struct {
	queue.IService
	name string
	log  *opLog

	mu       sync.Mutex
	sendErr  error
	failAt   map[int]error
	sends    int
	ackErr   error
	received [][]byte
}

func newRecordingQueue(name string, log *opLog, clk clock.Clock) *recordingQueue {
	return &recordingQueue{
		IService: queue.NewMemory(clk, 30*time.Second),
		name:     name,
		log:      log,
		failAt:   map[int]error{},
	}
}

func (q *recordingQueue) Send(ctx context.Context, body []byte) (string, error) {
	q.mu.Lock()
	n := q.sends
	q.sends++
	err := q.sendErr
	if e, ok := q.failAt[n]; ok {
		err = e
	}
	q.mu.Unlock()

	if err != nil {
		return "", err
	}
	id, err := q.IService.Send(ctx, body)
	if err == nil {
		q.log.add(fmt.Sprintf("%s.send", q.name))
	}
	return id, err
}

func (q *recordingQueue) Ack(ctx context.Context, d queue.Delivery) error {
	q.mu.Lock()
	err := q.ackErr
	q.mu.Unlock()
	if err != nil {
		return err
	}
	if err := q.IService.Ack(ctx, d); err != nil {
		return err
	}
	q.log.add(fmt.Sprintf("%s.ack", q.name))
	return nil
}

func (q *recordingQueue) Len() int {
	return queue.Len(q.IService)
}

// drain receives every visible message without acknowledging it.
func (q *recordingQueue) drain(t *testing.T) []queue.Delivery {
	t.Helper()
	deliveries, err := q.IService.Receive(context.Background(), 100, 0)
	test.That(t, err, test.ShouldBeNil)
	return deliveries
}

func detectionMessages(t *testing.T, deliveries []queue.Delivery) []model.DetectionMessage {
	t.Helper()
	msgs := make([]model.DetectionMessage, 0, len(deliveries))
	for _, d := range deliveries {
		msg, err := model.ParseDetectionMessage(d.Body)
		test.That(t, err, test.ShouldBeNil)
		msgs = append(msgs, msg)
	}
	return msgs
}

func recognitionResults(t *testing.T, deliveries []queue.Delivery) []model.RecognitionResult {
	t.Helper()
	results := make([]model.RecognitionResult, 0, len(deliveries))
	for _, d := range deliveries {
		r, err := model.ParseRecognitionResult(d.Body)
		test.That(t, err, test.ShouldBeNil)
		results = append(results, r)
	}
	return results
}

type recordingData struct {
	mu      sync.Mutex
	letters []model.DeadLetter
	errs    []interface{}
}

var _ data.IService = (*recordingData)(nil)

func (r *recordingData) NewError(err interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return nil
}

func (r *recordingData) NewDetectorStats(model.DetectorStats) error     { return nil }
func (r *recordingData) NewRecognizerStats(model.RecognizerStats) error { return nil }

func (r *recordingData) NewDeadLetter(letter model.DeadLetter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = append(r.letters, letter)
	return nil
}

func (r *recordingData) deadLetters() []model.DeadLetter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DeadLetter(nil), r.letters...)
}

func testConfig(mutate func(*config.Settings)) config.IService {
	s := config.Defaults()
	s.DetectTimeout = time.Second
	if mutate != nil {
		mutate(&s)
	}
	return config.NewFromSettings(s)
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	test.That(t, err, test.ShouldBeNil)
	return data
}
