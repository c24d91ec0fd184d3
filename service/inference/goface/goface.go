// Package goface classifies face crops with dlib through go-face.
package goface

import (
	"context"
	"log/slog"
	"math"
	"sync"

	face "github.com/Kagami/go-face"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"golang.org/x/xerrors"
)

type Recognizer struct {
	modelsDir  string
	identities []model.Identity
	tolerance  float32

	once    sync.Once
	loadErr error

	// dlib recognizers are not safe for concurrent use
	mu      sync.Mutex
	rec     *face.Recognizer
	samples []face.Descriptor
	cats    []int32
	names   []string
}

// NewRecognizer prepares a recognizer over the given gallery. Faces whose
// closest identity is farther than tolerance are labelled unknown.
func NewRecognizer(modelsDir string, identities []model.Identity, tolerance float32) *Recognizer {
	return &Recognizer{
		modelsDir:  modelsDir,
		identities: identities,
		tolerance:  tolerance,
	}
}

// Load reads the dlib models and installs the gallery samples once per process.
func (r *Recognizer) Load() error {
	r.once.Do(func() {
		rec, err := face.NewRecognizer(r.modelsDir)
		if err != nil {
			r.loadErr = xerrors.Errorf("%w: load models from %s: %v", inference.ErrCollaborator, r.modelsDir, err)
			return
		}

		index := map[string]int32{}
		for _, id := range r.identities {
			if len(id.Descriptor) != len(face.Descriptor{}) {
				lgr.Logger.Warn(
					"skipping gallery identity with a malformed descriptor",
					slog.String("name", id.Name),
					slog.Int("length", len(id.Descriptor)),
				)
				continue
			}

			cat, ok := index[id.Name]
			if !ok {
				cat = int32(len(r.names))
				index[id.Name] = cat
				r.names = append(r.names, id.Name)
			}

			var d face.Descriptor
			copy(d[:], id.Descriptor)
			r.samples = append(r.samples, d)
			r.cats = append(r.cats, cat)
		}

		rec.SetSamples(r.samples, r.cats)
		r.rec = rec

		lgr.Logger.Info(
			"face recognizer loaded",
			slog.String("models", r.modelsDir),
			slog.Int("identities", len(r.names)),
			slog.Int("samples", len(r.samples)),
		)
	})
	return r.loadErr
}

func (r *Recognizer) Classify(ctx context.Context, crop []byte) (string, float64, error) {
	if err := r.Load(); err != nil {
		return "", 0, err
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rec == nil {
		return "", 0, xerrors.Errorf("%w: recognizer is closed", inference.ErrCollaborator)
	}

	f, err := r.rec.RecognizeSingle(crop)
	if err != nil {
		return "", 0, xerrors.Errorf("%w: recognize crop: %v", inference.ErrCollaborator, err)
	}
	if f == nil {
		// The model answered: there is no face it can describe in this crop.
		return inference.UnknownLabel, 0, nil
	}

	if len(r.samples) == 0 {
		return inference.UnknownLabel, 0, nil
	}

	cat := r.rec.ClassifyThreshold(f.Descriptor, r.tolerance)
	if cat < 0 || cat >= len(r.names) {
		return inference.UnknownLabel, inference.Confidence(r.closest(f.Descriptor, -1)), nil
	}

	return r.names[cat], inference.Confidence(r.closest(f.Descriptor, int32(cat))), nil
}

// closest returns the smallest distance from d to the samples of cat, or to
// any sample when cat is negative.
func (r *Recognizer) closest(d face.Descriptor, cat int32) float64 {
	best := math.Inf(1)
	for i, s := range r.samples {
		if cat >= 0 && r.cats[i] != cat {
			continue
		}
		if dist := math.Sqrt(face.SquaredEuclideanDistance(d, s)); dist < best {
			best = dist
		}
	}
	return best
}

func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
}
