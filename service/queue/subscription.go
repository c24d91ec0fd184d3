package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/khaledhikmat/fr-go/service/lgr"
	"golang.org/x/xerrors"
)

const receiveErrorBackoff = 2 * time.Second

// Subscription long-polls a channel and hands every delivery to a Go channel.
type Subscription struct {
	Svc   IService
	Batch int
	Wait  time.Duration

	mu         sync.Mutex
	subsCtx    context.Context
	subsCancel context.CancelFunc
	done       chan struct{}
}

func NewSubscription(svc IService, batch int, wait time.Duration) *Subscription {
	return &Subscription{
		Svc:   svc,
		Batch: batch,
		Wait:  wait,
	}
}

// Subscribe starts the poller. The returned channel is closed once canxCtx is
// cancelled or Unsubscribe is called.
func (s *Subscription) Subscribe(canxCtx context.Context) (<-chan Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subsCtx != nil {
		return nil, xerrors.New("queue subscription already active. Unsubscribe first")
	}

	subsCtx, subsCancel := context.WithCancel(canxCtx)
	s.subsCtx = subsCtx
	s.subsCancel = subsCancel
	s.done = make(chan struct{})

	out := make(chan Delivery)
	go func() {
		defer close(s.done)
		defer close(out)

		for {
			deliveries, err := s.Svc.Receive(subsCtx, s.Batch, s.Wait)
			if err != nil {
				if subsCtx.Err() != nil {
					lgr.Logger.Info("queue subscription context cancelled")
					return
				}

				lgr.Logger.Error(
					"queue receive failed",
					slog.Any("error", lgr.Stack(err)),
				)

				select {
				case <-subsCtx.Done():
					return
				case <-time.After(receiveErrorBackoff):
				}
				continue
			}

			for _, d := range deliveries {
				select {
				case <-subsCtx.Done():
					// Undelivered messages reappear after their visibility timeout.
					lgr.Logger.Info("queue subscription context cancelled while dispatching")
					return
				case out <- d:
				}
			}
		}
	}()

	return out, nil
}

// Unsubscribe stops the poller and waits for it to exit.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if s.subsCtx == nil {
		s.mu.Unlock()
		return xerrors.New("not subscribed yet. Subscribe first")
	}
	cancel, done := s.subsCancel, s.done
	s.subsCtx = nil
	s.subsCancel = nil
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}
