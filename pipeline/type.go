package pipeline

import (
	"log/slog"

	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/data"
	"github.com/khaledhikmat/fr-go/service/inference"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"github.com/khaledhikmat/fr-go/service/notify"
	"github.com/khaledhikmat/fr-go/service/queue"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/khaledhikmat/fr-go/pipeline")

// ServicesFactory carries the collaborators and channels a stage needs.
// Detection uses Requests and Detector; recognition uses the rest.
type ServicesFactory struct {
	CfgSvc     config.IService
	DataSvc    data.IService
	Requests   queue.IService
	Responses  queue.IService
	Detector   inference.Detector
	Recognizer inference.Recognizer
	NotifySvc  notify.IService
}

// report hands a background failure to the error stream without ever blocking
// the stage.
func report(errorStream chan interface{}, err interface{}) {
	if errorStream == nil {
		return
	}
	select {
	case errorStream <- err:
	default:
		lgr.Logger.Warn(
			"error stream is full, dropping error",
			slog.Any("error", err),
		)
	}
}
