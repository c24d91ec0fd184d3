package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"golang.org/x/xerrors"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
	resultQoS      = 1
)

// Publisher is the part of an MQTT client the notifier needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// topicLevel escapes the MQTT wildcards and level separator so a request id
// always lands in exactly one topic level.
var topicLevel = strings.NewReplacer(
	"%", "%25",
	"/", "%2F",
	"+", "%2B",
	"#", "%23",
)

type mqttService struct {
	client Publisher
	topic  string
}

// Connect dials the broker with automatic reconnection.
func Connect(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		lgr.Logger.Info(
			"mqtt connection established",
			slog.String("broker", broker),
			slog.String("client_id", clientID),
		)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		lgr.Logger.Warn(
			"mqtt connection lost, will auto-reconnect",
			slog.String("broker", broker),
			slog.Any("error", err),
		)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, xerrors.Errorf("mqtt connection to %s timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, xerrors.Errorf("mqtt connection to %s failed: %w", broker, err)
	}

	return client, nil
}

// New connects an MQTT notifier to broker. It returns nil and no error when no
// broker is configured: results then only travel on the response channel.
func New(broker, topic, clientID string) (IService, error) {
	if broker == "" {
		return nil, nil
	}

	client, err := Connect(broker, clientID)
	if err != nil {
		return nil, err
	}
	return NewMQTT(client, topic), nil
}

// NewMQTT publishes every result under <topic>/<request_id>, with the request
// id escaped into a single topic level.
func NewMQTT(client Publisher, topic string) IService {
	return &mqttService{
		client: client,
		topic:  topic,
	}
}

func (svc *mqttService) Publish(ctx context.Context, result model.RecognitionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return xerrors.Errorf("marshal result: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", svc.topic, topicLevel.Replace(result.RequestID))
	token := svc.client.Publish(topic, resultQoS, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return xerrors.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return xerrors.Errorf("publish to %s failed: %w", topic, err)
	}

	lgr.Logger.Debug(
		"result published",
		slog.String("topic", topic),
		slog.Int("size", len(payload)),
	)
	return nil
}

func (svc *mqttService) Close() {
	if c, ok := svc.client.(mqtt.Client); ok && c.IsConnected() {
		c.Disconnect(250)
		lgr.Logger.Info("mqtt disconnected")
	}
}
