package cmd

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/khaledhikmat/fr-go/model"
	"github.com/khaledhikmat/fr-go/pipeline"
	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/data"
	"github.com/khaledhikmat/fr-go/service/gallery"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/inference/cascade"
	"github.com/khaledhikmat/fr-go/service/inference/goface"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/notify"
	"github.com/khaledhikmat/fr-go/service/queue"
	"golang.org/x/xerrors"
)

type stageNeeds struct {
	detection   bool
	recognition bool
}

// buildServices creates the services a mode needs. The returned function
// releases them.
func buildServices(ctx context.Context, cfg config.IService, needs stageNeeds) (pipeline.ServicesFactory, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	requests, responses, err := buildQueues(ctx, cfg)
	if err != nil {
		return pipeline.ServicesFactory{}, cleanup, err
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:    cfg,
		DataSvc:   data.NewFilesDB(cfg),
		Requests:  requests,
		Responses: responses,
	}

	if needs.detection {
		switch cfg.GetInferenceBackend() {
		case config.InferenceBackendFake:
			svcs.Detector = inference.NewFakeDetector()
		default:
			detector := cascade.NewDetector(cfg.GetCascadePath())
			closers = append(closers, func() { _ = detector.Close() })
			svcs.Detector = detector
		}
	}

	if needs.recognition {
		switch cfg.GetInferenceBackend() {
		case config.InferenceBackendFake:
			svcs.Recognizer = inference.NewFakeRecognizer(inference.UnknownLabel, 0)
		default:
			identities, err := loadGallery(ctx, cfg)
			if err != nil {
				return svcs, cleanup, err
			}
			recognizer := goface.NewRecognizer(cfg.GetFaceModelsDir(), identities, cfg.GetMatchTolerance())
			closers = append(closers, recognizer.Close)
			svcs.Recognizer = recognizer
		}

		notifier, err := notify.New(cfg.GetMQTTBroker(), cfg.GetMQTTTopic(), "fr-go-"+uuid.NewString())
		switch {
		case err != nil:
			// Results still flow through the response channel.
			lgr.Logger.Warn(
				"result notifier unavailable",
				slog.String("broker", cfg.GetMQTTBroker()),
				slog.Any("error", err),
			)
		case notifier != nil:
			closers = append(closers, notifier.Close)
			svcs.NotifySvc = notifier
		}
	}

	return svcs, cleanup, nil
}

func buildQueues(ctx context.Context, cfg config.IService) (queue.IService, queue.IService, error) {
	switch cfg.GetQueueBackend() {
	case config.QueueBackendMemory:
		return queue.NewMemory(nil, cfg.GetVisibilityTimeout()), queue.NewMemory(nil, cfg.GetVisibilityTimeout()), nil
	case config.QueueBackendSQS:
		if cfg.GetRequestQueueURL() == "" || cfg.GetResponseQueueURL() == "" {
			return nil, nil, xerrors.New("sqs backend needs both SQS_REQUEST_QUEUE_URL and SQS_RESPONSE_QUEUE_URL")
		}
		client, err := queue.NewSQSClient(ctx, cfg.GetAWSRegion(), cfg.GetSQSEndpoint())
		if err != nil {
			return nil, nil, err
		}
		return queue.NewSQS(client, cfg.GetRequestQueueURL(), cfg.GetVisibilityTimeout()),
			queue.NewSQS(client, cfg.GetResponseQueueURL(), cfg.GetVisibilityTimeout()),
			nil
	default:
		return nil, nil, xerrors.Errorf("unknown queue backend %q", cfg.GetQueueBackend())
	}
}

func loadGallery(ctx context.Context, cfg config.IService) ([]model.Identity, error) {
	switch cfg.GetGallerySource() {
	case config.GallerySourcePostgres:
		store, err := gallery.NewPostgres(ctx, cfg.GetGalleryDBURL())
		if err != nil {
			return nil, err
		}
		defer store.Close(context.Background())
		return store.Identities(ctx)
	default:
		return gallery.NewFiles(cfg.GetGalleryFile()).Identities(ctx)
	}
}
