package inference

import (
	"context"
	"errors"
)

// ErrCollaborator wraps every fault raised by a detection or recognition
// model, including its runtime and its artifacts.
var ErrCollaborator = errors.New("inference collaborator failed")

// UnknownLabel is reported for a face that matches no gallery identity.
const UnknownLabel = "unknown"

// Detector locates faces in an encoded image and returns one encoded crop per
// face, in a stable order.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([][]byte, error)
}

// Recognizer classifies a single face crop against the known identities.
type Recognizer interface {
	Classify(ctx context.Context, crop []byte) (string, float64, error)
}

// Loader is implemented by collaborators whose models are loaded lazily. Load
// is idempotent and safe for concurrent use.
type Loader interface {
	Load() error
}

// Warm loads the collaborator's model ahead of the first invocation when it
// supports lazy loading.
func Warm(c interface{}) error {
	if l, ok := c.(Loader); ok {
		return l.Load()
	}
	return nil
}
