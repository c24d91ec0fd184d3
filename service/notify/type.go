package notify

import (
	"context"

	"github.com/khaledhikmat/fr-go/model"
)

// IService mirrors recognition results to interested listeners. It never
// replaces the response channel.
type IService interface {
	Publish(ctx context.Context, result model.RecognitionResult) error
	Close()
}
