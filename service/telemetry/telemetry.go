package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/khaledhikmat/fr-go/service/config"
	"github.com/khaledhikmat/fr-go/service/lgr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/xerrors"
)

type Options struct {
	ServiceName string
	Version     string
	// Exporter is one of the config.TraceExporter* values.
	Exporter string
	// Output receives exported spans when Exporter is stdout. Defaults to
	// stdout.
	Output io.Writer
}

// Init installs the global tracer provider and returns its shutdown func.
// Every span gets trace and span ids, so log records written inside a span
// carry them even when nothing is exported.
func Init(opts Options) (func(context.Context) error, error) {
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", opts.ServiceName),
			attribute.String("service.version", opts.Version),
		)),
	}

	switch opts.Exporter {
	case "", config.TraceExporterNone:
	case config.TraceExporterStdout:
		w := opts.Output
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, xerrors.Errorf("stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	default:
		return nil, xerrors.Errorf("unknown trace exporter %q", opts.Exporter)
	}

	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	lgr.Logger.Debug(
		"tracer provider installed",
		slog.String("exporter", opts.Exporter),
	)

	return tp.Shutdown, nil
}
