package notify

import (
	"context"
	"sync"

	"github.com/khaledhikmat/fr-go/model"
)

// FakeService records what it is asked to publish.
type FakeService struct {
	Err error

	mu        sync.Mutex
	published []model.RecognitionResult
}

func NewFake() *FakeService {
	return &FakeService{}
}

func (svc *FakeService) Publish(_ context.Context, result model.RecognitionResult) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.Err != nil {
		return svc.Err
	}
	svc.published = append(svc.published, result)
	return nil
}

func (svc *FakeService) Published() []model.RecognitionResult {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return append([]model.RecognitionResult(nil), svc.published...)
}

func (svc *FakeService) Close() {}
