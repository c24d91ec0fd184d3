package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"
	"golang.org/x/time/rate"
)

// FrameHandler runs the detection stage for one submission.
type FrameHandler interface {
	Handle(ctx context.Context, sub model.FrameSubmission) pipeline.Response
}

type Options struct {
	Addr string
	// Rate is the sustained number of submissions per second; zero disables
	// limiting.
	Rate  float64
	Burst int
	// MaxFrameBytes bounds the decoded frame; the request body limit is
	// derived from it.
	MaxFrameBytes int
}

// NewMux routes the intake endpoints.
func NewMux(h FrameHandler, opts Options) *goji.Mux {
	var limiter *rate.Limiter
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst)
	}

	mux := goji.NewMux()
	corsHandler := cors.AllowAll()

	mux.Handle(pat.Post("/frames"), corsHandler.Handler(&framesHandler{
		frames:   h,
		limiter:  limiter,
		maxBytes: maxBodyBytes(opts.MaxFrameBytes),
	}))
	mux.Handle(pat.Options("/frames"), corsHandler.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))
	mux.HandleFunc(pat.Get("/healthz"), func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return mux
}

func NewServer(h FrameHandler, opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Addr,
		Handler:           NewMux(h, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// maxBodyBytes allows for the base64 expansion of the largest frame plus the
// JSON envelope.
func maxBodyBytes(maxFrame int) int64 {
	if maxFrame <= 0 {
		return 0
	}
	return int64(maxFrame)*4/3 + 64<<10
}

type framesHandler struct {
	frames   FrameHandler
	limiter  *rate.Limiter
	maxBytes int64
}

func (h *framesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.limiter != nil && !h.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, model.ErrorBody{Error: "too many requests"})
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}

	var sub model.FrameSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, model.ErrorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, model.ErrorBody{Error: "request body must be valid JSON"})
		return
	}

	resp := h.frames.Handle(r.Context(), sub)

	lgr.Logger.InfoContext(r.Context(),
		"frame submission handled",
		slog.String("request_id", sub.RequestID),
		slog.String("filename", sub.Filename),
		slog.Int("status", resp.Status),
	)

	writeJSON(w, resp.Status, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		lgr.Logger.Error(
			"failed to write response",
			slog.Any("error", err),
		)
	}
}
