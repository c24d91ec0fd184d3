package gallery

import (
	"context"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/samber/lo"
)

// IService is a source of labelled face descriptors known to the recognizer.
type IService interface {
	Identities(ctx context.Context) ([]model.Identity, error)
}

// Names returns the distinct identity names in first-seen order.
func Names(identities []model.Identity) []string {
	return lo.Uniq(lo.Map(identities, func(id model.Identity, _ int) string {
		return id.Name
	}))
}

// usable drops identities without a name or a descriptor.
func usable(identities []model.Identity) []model.Identity {
	return lo.Filter(identities, func(id model.Identity, _ int) bool {
		return id.Name != "" && len(id.Descriptor) > 0
	})
}
