package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/khaledhikmat/fr-go/model"
	"go.viam.com/test"
)

type fakeToken struct {
	completed bool
	err       error
}

func (t *fakeToken) Wait() bool                       { return t.completed }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return t.completed }
func (t *fakeToken) Error() error                     { return t.err }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.completed {
		close(ch)
	}
	return ch
}

type publishCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	token *fakeToken
	calls []publishCall
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.calls = append(p.calls, publishCall{topic: topic, qos: qos, payload: payload.([]byte)})
	return p.token
}

func TestMQTTPublish(t *testing.T) {
	pub := &fakePublisher{token: &fakeToken{completed: true}}
	svc := NewMQTT(pub, "fr/results")

	msg := model.DetectionMessage{RequestID: "req-7", FaceIndex: 1}
	err := svc.Publish(context.Background(), model.NewRecognizedResult(msg, "alice", 0.8))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pub.calls, test.ShouldHaveLength, 1)
	test.That(t, pub.calls[0].topic, test.ShouldEqual, "fr/results/req-7")
	test.That(t, pub.calls[0].qos, test.ShouldEqual, byte(1))
	test.That(t, string(pub.calls[0].payload), test.ShouldEqual,
		`{"request_id":"req-7","face_index":1,"label":"alice","confidence":0.8,"error":null}`)
}

func TestMQTTPublishFailures(t *testing.T) {
	msg := model.DetectionMessage{RequestID: "req-7"}
	result := model.NewFailedResult(msg, "boom")

	timedOut := NewMQTT(&fakePublisher{token: &fakeToken{}}, "fr")
	test.That(t, timedOut.Publish(context.Background(), result), test.ShouldNotBeNil)

	refused := errors.New("not authorized")
	failed := NewMQTT(&fakePublisher{token: &fakeToken{completed: true, err: refused}}, "fr")
	test.That(t, errors.Is(failed.Publish(context.Background(), result), refused), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := &fakePublisher{token: &fakeToken{completed: true}}
	test.That(t, NewMQTT(pub, "fr").Publish(ctx, result), test.ShouldNotBeNil)
	test.That(t, pub.calls, test.ShouldBeEmpty)
}

func TestMQTTTopicEscapesRequestID(t *testing.T) {
	tests := []struct {
		requestID string
		topic     string
	}{
		{"req-1", "fr/results/req-1"},
		{"a/b", "fr/results/a%2Fb"},
		{"+", "fr/results/%2B"},
		{"#", "fr/results/%23"},
		{"50%/x#", "fr/results/50%25%2Fx%23"},
	}

	for _, tt := range tests {
		t.Run(tt.requestID, func(t *testing.T) {
			pub := &fakePublisher{token: &fakeToken{completed: true}}
			svc := NewMQTT(pub, "fr/results")

			msg := model.DetectionMessage{RequestID: tt.requestID}
			err := svc.Publish(context.Background(), model.NewFailedResult(msg, "boom"))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, pub.calls, test.ShouldHaveLength, 1)
			test.That(t, pub.calls[0].topic, test.ShouldEqual, tt.topic)
		})
	}
}

func TestNewWithoutBroker(t *testing.T) {
	svc, err := New("", "fr/results", "client")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, svc, test.ShouldBeNil)
}
