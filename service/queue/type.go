package queue

import (
	"context"
	"errors"
	"time"
)

// ErrReceiptInvalid is returned by Ack when the receipt handle no longer
// identifies an in-flight delivery, e.g. because the visibility timeout expired
// and the message was handed to another consumer.
var ErrReceiptInvalid = errors.New("receipt handle is no longer valid")

// Delivery is one received message. It stays owned by the channel until it is
// acknowledged; an unacknowledged delivery becomes visible again once its
// visibility timeout expires.
type Delivery struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// IService is a durable, at-least-once message channel.
type IService interface {
	Send(ctx context.Context, body []byte) (string, error)
	Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}
