package config

import "time"

type IService interface {
	IsDev() bool
	GetLogLevel() string
	GetLogFile() string
	GetModeMaxShutdownTime() int
	GetModePeriodicTimeout() int
	GetDataFolder() string

	GetAWSRegion() string
	GetQueueBackend() string
	GetSQSEndpoint() string
	GetRequestQueueURL() string
	GetResponseQueueURL() string
	GetVisibilityTimeout() time.Duration
	GetReceiveBatch() int
	GetReceiveWait() time.Duration
	GetMaxReceiveCount() int
	GetRecognizerWorkers() int

	GetHTTPAddr() string
	GetIntakeRate() float64
	GetIntakeBurst() int
	GetDetectTimeout() time.Duration
	GetMaxFrameBytes() int
	GetMaxFacesPerFrame() int

	GetInferenceBackend() string
	GetCascadePath() string
	GetFaceModelsDir() string
	GetMatchTolerance() float32
	GetGallerySource() string
	GetGalleryFile() string
	GetGalleryDBURL() string

	GetMQTTBroker() string
	GetMQTTTopic() string

	GetTraceExporter() string
}

const (
	QueueBackendSQS    = "sqs"
	QueueBackendMemory = "memory"

	InferenceBackendGoCV = "gocv"
	InferenceBackendFake = "fake"

	GallerySourceFile     = "file"
	GallerySourcePostgres = "postgres"

	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"

	// SQS bounds on a receive long poll and on a visibility timeout.
	SQSMaxReceiveWait       = 20 * time.Second
	SQSMinVisibilityTimeout = time.Second
	SQSMaxVisibilityTimeout = 12 * time.Hour
)
