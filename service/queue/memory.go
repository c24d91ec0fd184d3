package queue

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

type memoryMessage struct {
	id           string
	body         []byte
	receipt      string
	receiveCount int
	visibleAt    time.Time
}

// memoryService is an in-process channel with SQS-like visibility semantics.
// It is durable only for the lifetime of the process.
type memoryService struct {
	clock      clock.Clock
	visibility time.Duration

	mu       sync.Mutex
	messages []*memoryMessage
	// wake is closed and replaced whenever a message is sent
	wake chan struct{}
}

func NewMemory(clk clock.Clock, visibility time.Duration) IService {
	if clk == nil {
		clk = clock.New()
	}
	return &memoryService{
		clock:      clk,
		visibility: visibility,
		wake:       make(chan struct{}),
	}
}

func (svc *memoryService) Send(ctx context.Context, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	msg := &memoryMessage{
		id:        uuid.NewString(),
		body:      append([]byte(nil), body...),
		visibleAt: svc.clock.Now(),
	}

	svc.mu.Lock()
	svc.messages = append(svc.messages, msg)
	close(svc.wake)
	svc.wake = make(chan struct{})
	svc.mu.Unlock()

	return msg.id, nil
}

func (svc *memoryService) Receive(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error) {
	if limit < 1 {
		return nil, xerrors.Errorf("receive limit must be >= 1, got %d", limit)
	}

	timer := svc.clock.Timer(wait)
	defer timer.Stop()

	for {
		deliveries, wake, next := svc.take(limit)
		if len(deliveries) > 0 {
			return deliveries, nil
		}
		if wait <= 0 {
			return nil, nil
		}

		// Wake up for a new message, for the next in-flight message becoming
		// visible again, or when the long poll ends.
		var reappear *clock.Timer
		if !next.IsZero() {
			reappear = svc.clock.Timer(next.Sub(svc.clock.Now()))
		}

		select {
		case <-ctx.Done():
			stopTimer(reappear)
			return nil, ctx.Err()
		case <-timer.C:
			stopTimer(reappear)
			return nil, nil
		case <-wake:
		case <-timerC(reappear):
		}
		stopTimer(reappear)
	}
}

func timerC(t *clock.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t *clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

// take hands out up to limit visible messages. When none is visible it returns
// the wake channel and the earliest time an in-flight message reappears.
func (svc *memoryService) take(limit int) ([]Delivery, chan struct{}, time.Time) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	now := svc.clock.Now()
	var deliveries []Delivery
	var next time.Time
	for _, m := range svc.messages {
		if m.visibleAt.After(now) {
			if next.IsZero() || m.visibleAt.Before(next) {
				next = m.visibleAt
			}
			continue
		}
		if len(deliveries) == limit {
			break
		}

		m.receiveCount++
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(svc.visibility)
		deliveries = append(deliveries, Delivery{
			ID:            m.id,
			Body:          append([]byte(nil), m.body...),
			ReceiptHandle: m.receipt,
			ReceiveCount:  m.receiveCount,
		})
	}

	return deliveries, svc.wake, next
}

func (svc *memoryService) Ack(ctx context.Context, d Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	for i, m := range svc.messages {
		if m.id != d.ID {
			continue
		}
		if m.receipt != d.ReceiptHandle {
			return xerrors.Errorf("message %s: %w", d.ID, ErrReceiptInvalid)
		}
		svc.messages = append(svc.messages[:i], svc.messages[i+1:]...)
		return nil
	}

	return xerrors.Errorf("message %s: %w", d.ID, ErrReceiptInvalid)
}

// Len reports how many messages, visible or in flight, the channel holds.
func (svc *memoryService) Len() int {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return len(svc.messages)
}

// Len reports the depth of channels that can count their messages (the memory
// channel and anything wrapping it), or -1 for those that cannot.
func Len(svc IService) int {
	c, ok := svc.(interface{ Len() int })
	if !ok {
		return -1
	}
	return c.Len()
}
