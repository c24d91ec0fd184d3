package mode

import (
	"context"

	"github.com/khaledhikmat/fr-go/pipeline"
	"golang.org/x/sync/errgroup"
)

// Standalone runs both stages in one process over the same channels.
func Standalone(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	group, groupCtx := errgroup.WithContext(canxCtx)

	group.Go(func() error {
		return Detector(groupCtx, svcs)
	})
	group.Go(func() error {
		return Recognizer(groupCtx, svcs)
	})

	return group.Wait()
}
