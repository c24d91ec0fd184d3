package inference

import (
	"context"
	"sync"
)

// FakeDetector returns the whole image as a single crop unless DetectFunc is
// set.
type FakeDetector struct {
	DetectFunc func(ctx context.Context, image []byte) ([][]byte, error)

	mu    sync.Mutex
	calls int
}

func NewFakeDetector() *FakeDetector {
	return &FakeDetector{}
}

func (d *FakeDetector) Detect(ctx context.Context, image []byte) ([][]byte, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	if d.DetectFunc != nil {
		return d.DetectFunc(ctx, image)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return [][]byte{image}, nil
}

// Calls reports how many times Detect was invoked.
func (d *FakeDetector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// FakeRecognizer answers with a fixed label unless ClassifyFunc is set.
type FakeRecognizer struct {
	Label        string
	Confidence   float64
	ClassifyFunc func(ctx context.Context, crop []byte) (string, float64, error)

	mu    sync.Mutex
	calls int
}

func NewFakeRecognizer(label string, confidence float64) *FakeRecognizer {
	return &FakeRecognizer{
		Label:      label,
		Confidence: confidence,
	}
}

func (r *FakeRecognizer) Classify(ctx context.Context, crop []byte) (string, float64, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()

	if r.ClassifyFunc != nil {
		return r.ClassifyFunc(ctx, crop)
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	return r.Label, r.Confidence, nil
}

func (r *FakeRecognizer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
