// Package cascade detects faces with an OpenCV Haar cascade.
package cascade

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"gocv.io/x/gocv"
	"golang.org/x/xerrors"
)

const (
	minFaceSize  = 20
	scaleFactor  = 1.1
	minNeighbors = 5
)

// Detector wraps a cascade classifier. The classifier is not safe for
// concurrent use, so every call holds mu.
type Detector struct {
	path string

	once    sync.Once
	loadErr error

	mu         sync.Mutex
	classifier gocv.CascadeClassifier
	loaded     bool
}

func NewDetector(path string) *Detector {
	return &Detector{
		path: path,
	}
}

// Load reads the cascade file once per process.
func (d *Detector) Load() error {
	d.once.Do(func() {
		d.classifier = gocv.NewCascadeClassifier()
		d.loaded = true
		if !d.classifier.Load(d.path) {
			d.loadErr = xerrors.Errorf("%w: cannot load cascade %s", inference.ErrCollaborator, d.path)
			return
		}
		lgr.Logger.Info(
			"cascade detector loaded",
			slog.String("path", d.path),
		)
	})
	return d.loadErr
}

func (d *Detector) Detect(ctx context.Context, img []byte) ([][]byte, error) {
	if err := d.Load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, xerrors.Errorf("%w: decode frame: %v", inference.ErrCollaborator, err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, xerrors.Errorf("%w: frame is not a decodable image", inference.ErrCollaborator)
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	d.mu.Lock()
	rects := d.classifier.DetectMultiScaleWithParams(
		gray, scaleFactor, minNeighbors, 0,
		image.Pt(minFaceSize, minFaceSize), image.Pt(0, 0),
	)
	d.mu.Unlock()

	inference.OrderRegions(rects)

	crops := make([][]byte, 0, len(rects))
	for _, r := range rects {
		crop, err := encodeRegion(frame, r)
		if err != nil {
			return nil, err
		}
		crops = append(crops, crop)
	}

	return crops, nil
}

func encodeRegion(frame gocv.Mat, r image.Rectangle) ([]byte, error) {
	region := frame.Region(r)
	defer region.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, region)
	if err != nil {
		return nil, xerrors.Errorf("%w: encode crop: %v", inference.ErrCollaborator, err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil
	}
	d.loaded = false
	return d.classifier.Close()
}
