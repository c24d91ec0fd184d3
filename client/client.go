// Package client submits frames to the intake endpoint and collects their
// recognition results from the response channel.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/khaledhikmat/fr-go/codec"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/queue"
	"golang.org/x/xerrors"
)

// Submitter posts frame submissions to a detection endpoint.
type Submitter struct {
	URL        string
	HTTPClient *http.Client
}

func NewSubmitter(baseURL string, timeout time.Duration) *Submitter {
	return &Submitter{
		URL:        baseURL + "/frames",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Submission is the outcome of posting one frame.
type Submission struct {
	Path    string
	Status  int
	Summary model.IntakeSummary
	Error   string
}

// SubmitFile reads an image file and submits it under a fresh request id.
func (s *Submitter) SubmitFile(ctx context.Context, path string) (Submission, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Submission{Path: path}, err
	}

	return s.Submit(ctx, model.FrameSubmission{
		RequestID: uuid.NewString(),
		Filename:  filepath.Base(path),
		Content:   codec.Encode(content),
	})
}

func (s *Submitter) Submit(ctx context.Context, sub model.FrameSubmission) (Submission, error) {
	out := Submission{Path: sub.Filename, Summary: model.IntakeSummary{RequestID: sub.RequestID}}

	body, err := json.Marshal(sub)
	if err != nil {
		return out, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return out, xerrors.Errorf("posting %s: %w", sub.Filename, err)
	}
	defer resp.Body.Close()

	out.Status = resp.StatusCode
	switch resp.StatusCode {
	case http.StatusOK, http.StatusBadGateway:
		// Both carry the intake summary; 502 lists the faces that were not queued.
		if err := json.NewDecoder(resp.Body).Decode(&out.Summary); err != nil {
			return out, xerrors.Errorf("decoding intake summary: %w", err)
		}
		out.Summary.RequestID = sub.RequestID
	default:
		var e model.ErrorBody
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			e.Error = http.StatusText(resp.StatusCode)
		}
		out.Error = e.Error
	}

	return out, nil
}

// ErrIncomplete is returned by Collect when the wait ends before every
// expected result arrived.
var ErrIncomplete = errors.New("not every result arrived in time")

// Collector pulls results from the response channel.
type Collector struct {
	Responses queue.IService
	Batch     int
	Wait      time.Duration
}

// Collect receives results until expected (request id -> queued faces) is
// satisfied or ctx ends. Results of other requests are left on the channel
// for their own clients. Duplicate results for a face are acknowledged and
// reported once.
func (c *Collector) Collect(ctx context.Context, expected map[string]int, onResult func(model.RecognitionResult)) error {
	remaining := 0
	for _, n := range expected {
		remaining += n
	}

	seen := map[string]bool{}
	for remaining > 0 {
		deliveries, err := c.Responses.Receive(ctx, c.Batch, c.Wait)
		if err != nil {
			if ctx.Err() != nil {
				return xerrors.Errorf("%w: %d outstanding", ErrIncomplete, remaining)
			}
			return err
		}

		for _, d := range deliveries {
			result, err := model.ParseRecognitionResult(d.Body)
			if err != nil {
				lgr.Logger.Warn(
					"ignoring malformed result",
					slog.String("message_id", d.ID),
					slog.Any("error", err),
				)
				continue
			}
			if _, ours := expected[result.RequestID]; !ours {
				continue
			}

			if err := c.Responses.Ack(ctx, d); err != nil && !errors.Is(err, queue.ErrReceiptInvalid) {
				lgr.Logger.Warn(
					"failed to ack result",
					slog.String("message_id", d.ID),
					slog.Any("error", err),
				)
			}

			key := fmt.Sprintf("%s/%d", result.RequestID, result.FaceIndex)
			if seen[key] {
				continue
			}
			seen[key] = true
			remaining--
			onResult(result)
		}
	}

	return nil
}
