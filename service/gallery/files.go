package gallery

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"golang.org/x/xerrors"
)

type filesService struct {
	path string
}

// NewFiles reads the gallery from a JSON array of identities.
func NewFiles(path string) IService {
	return &filesService{
		path: path,
	}
}

func (svc *filesService) Identities(_ context.Context) ([]model.Identity, error) {
	data, err := os.ReadFile(svc.path)
	if err != nil {
		return nil, xerrors.Errorf("read gallery %s: %w", svc.path, err)
	}

	identities := []model.Identity{}
	if err := json.Unmarshal(data, &identities); err != nil {
		return nil, xerrors.Errorf("parse gallery %s: %w", svc.path, err)
	}

	kept := usable(identities)
	if dropped := len(identities) - len(kept); dropped > 0 {
		lgr.Logger.Warn(
			"gallery entries without a name or descriptor were ignored",
			slog.String("path", svc.path),
			slog.Int("dropped", dropped),
		)
	}

	return kept, nil
}
