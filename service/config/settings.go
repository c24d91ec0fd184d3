package config

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Settings is the flat configuration document. Values come from defaults,
// then an optional YAML file, then environment variables.
type Settings struct {
	RunTimeEnv      string `yaml:"run_time_env"`
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
	ModeMaxShutdown int    `yaml:"mode_max_shutdown_s"`
	ModePeriodic    int    `yaml:"mode_periodic_s"`
	DataFolder      string `yaml:"data_folder"`

	AWSRegion         string        `yaml:"aws_region"`
	QueueBackend      string        `yaml:"queue_backend"`
	SQSEndpoint       string        `yaml:"sqs_endpoint"`
	RequestQueueURL   string        `yaml:"request_queue_url"`
	ResponseQueueURL  string        `yaml:"response_queue_url"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	ReceiveBatch      int           `yaml:"receive_batch"`
	ReceiveWait       time.Duration `yaml:"receive_wait"`
	MaxReceiveCount   int           `yaml:"max_receive_count"`
	RecognizerWorkers int           `yaml:"recognizer_workers"`

	HTTPAddr         string        `yaml:"http_addr"`
	IntakeRate       float64       `yaml:"intake_rate"`
	IntakeBurst      int           `yaml:"intake_burst"`
	DetectTimeout    time.Duration `yaml:"detect_timeout"`
	MaxFrameBytes    int           `yaml:"max_frame_bytes"`
	MaxFacesPerFrame int           `yaml:"max_faces_per_frame"`

	InferenceBackend string  `yaml:"inference_backend"`
	CascadePath      string  `yaml:"cascade_path"`
	FaceModelsDir    string  `yaml:"face_models_dir"`
	MatchTolerance   float32 `yaml:"match_tolerance"`
	GallerySource    string  `yaml:"gallery_source"`
	GalleryFile      string  `yaml:"gallery_file"`
	GalleryDBURL     string  `yaml:"gallery_db_url"`

	MQTTBroker string `yaml:"mqtt_broker"`
	MQTTTopic  string `yaml:"mqtt_topic"`

	TraceExporter string `yaml:"trace_exporter"`
}

func Defaults() Settings {
	return Settings{
		RunTimeEnv:      "dev",
		LogLevel:        "info",
		ModeMaxShutdown: 5,
		ModePeriodic:    30,
		DataFolder:      "./data",

		AWSRegion:         "us-east-1",
		QueueBackend:      QueueBackendSQS,
		VisibilityTimeout: 30 * time.Second,
		ReceiveBatch:      10,
		ReceiveWait:       20 * time.Second,
		MaxReceiveCount:   5,
		RecognizerWorkers: 3,

		HTTPAddr:         ":8080",
		IntakeRate:       50,
		IntakeBurst:      100,
		DetectTimeout:    10 * time.Second,
		MaxFrameBytes:    10 << 20,
		MaxFacesPerFrame: 32,

		InferenceBackend: InferenceBackendGoCV,
		CascadePath:      "./models/haarcascade_frontalface_default.xml",
		FaceModelsDir:    "./models",
		MatchTolerance:   0.6,
		GallerySource:    GallerySourceFile,
		GalleryFile:      "./models/gallery.json",

		MQTTTopic: "fr-go/results",

		TraceExporter: TraceExporterNone,
	}
}

// Load builds the settings from defaults, the YAML file at path (if any) and
// the environment.
func Load(path string) (Settings, error) {
	s := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, xerrors.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, xerrors.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return s, err
	}

	return s, s.validate()
}

func (s *Settings) applyEnv() error {
	strs := map[string]*string{
		"RUN_TIME_ENV":           &s.RunTimeEnv,
		"LOG_LEVEL":              &s.LogLevel,
		"LOG_FILE":               &s.LogFile,
		"DATA_FOLDER":            &s.DataFolder,
		"AWS_REGION":             &s.AWSRegion,
		"QUEUE_BACKEND":          &s.QueueBackend,
		"SQS_ENDPOINT":           &s.SQSEndpoint,
		"SQS_REQUEST_QUEUE_URL":  &s.RequestQueueURL,
		"SQS_RESPONSE_QUEUE_URL": &s.ResponseQueueURL,
		"HTTP_ADDR":              &s.HTTPAddr,
		"INFERENCE_BACKEND":      &s.InferenceBackend,
		"CASCADE_PATH":           &s.CascadePath,
		"FACE_MODELS_DIR":        &s.FaceModelsDir,
		"GALLERY_SOURCE":         &s.GallerySource,
		"GALLERY_FILE":           &s.GalleryFile,
		"GALLERY_DB_URL":         &s.GalleryDBURL,
		"MQTT_BROKER":            &s.MQTTBroker,
		"MQTT_TOPIC":             &s.MQTTTopic,
		"TRACE_EXPORTER":         &s.TraceExporter,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"MODE_MAX_SHUTDOWN":   &s.ModeMaxShutdown,
		"MODE_PERIODIC":       &s.ModePeriodic,
		"RECEIVE_BATCH":       &s.ReceiveBatch,
		"MAX_RECEIVE_COUNT":   &s.MaxReceiveCount,
		"RECOGNIZER_WORKERS":  &s.RecognizerWorkers,
		"INTAKE_BURST":        &s.IntakeBurst,
		"MAX_FRAME_BYTES":     &s.MaxFrameBytes,
		"MAX_FACES_PER_FRAME": &s.MaxFacesPerFrame,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return xerrors.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"VISIBILITY_TIMEOUT": &s.VisibilityTimeout,
		"RECEIVE_WAIT":       &s.ReceiveWait,
		"DETECT_TIMEOUT":     &s.DetectTimeout,
	}
	for key, dst := range durations {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return xerrors.Errorf("env %s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := os.LookupEnv("INTAKE_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return xerrors.Errorf("env INTAKE_RATE: %w", err)
		}
		s.IntakeRate = f
	}

	if v, ok := os.LookupEnv("MATCH_TOLERANCE"); ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return xerrors.Errorf("env MATCH_TOLERANCE: %w", err)
		}
		s.MatchTolerance = float32(f)
	}

	return nil
}

func (s Settings) validate() error {
	switch s.QueueBackend {
	case QueueBackendSQS, QueueBackendMemory:
	default:
		return xerrors.Errorf("unknown queue backend %q", s.QueueBackend)
	}

	if s.VisibilityTimeout <= 0 {
		return xerrors.Errorf("visibility timeout must be positive, got %s", s.VisibilityTimeout)
	}
	if s.ReceiveWait < 0 {
		return xerrors.Errorf("receive wait must not be negative, got %s", s.ReceiveWait)
	}
	if s.QueueBackend == QueueBackendSQS {
		if s.ReceiveWait > SQSMaxReceiveWait {
			return xerrors.Errorf("receive wait must be at most %s for sqs, got %s", SQSMaxReceiveWait, s.ReceiveWait)
		}
		if s.VisibilityTimeout < SQSMinVisibilityTimeout || s.VisibilityTimeout > SQSMaxVisibilityTimeout {
			return xerrors.Errorf("visibility timeout must be between %s and %s for sqs, got %s",
				SQSMinVisibilityTimeout, SQSMaxVisibilityTimeout, s.VisibilityTimeout)
		}
	}

	switch s.TraceExporter {
	case TraceExporterNone, TraceExporterStdout:
	default:
		return xerrors.Errorf("unknown trace exporter %q", s.TraceExporter)
	}

	switch s.InferenceBackend {
	case InferenceBackendGoCV, InferenceBackendFake:
	default:
		return xerrors.Errorf("unknown inference backend %q", s.InferenceBackend)
	}

	switch s.GallerySource {
	case GallerySourceFile, GallerySourcePostgres:
	default:
		return xerrors.Errorf("unknown gallery source %q", s.GallerySource)
	}

	if s.ReceiveBatch < 1 || s.ReceiveBatch > 10 {
		return xerrors.Errorf("receive batch must be between 1 and 10, got %d", s.ReceiveBatch)
	}
	if s.RecognizerWorkers < 1 {
		return xerrors.Errorf("recognizer workers must be >= 1, got %d", s.RecognizerWorkers)
	}
	if s.MaxReceiveCount < 1 {
		return xerrors.Errorf("max receive count must be >= 1, got %d", s.MaxReceiveCount)
	}
	if s.DetectTimeout <= 0 {
		return xerrors.Errorf("detect timeout must be positive, got %s", s.DetectTimeout)
	}
	if s.MaxFacesPerFrame < 1 {
		return xerrors.Errorf("max faces per frame must be >= 1, got %d", s.MaxFacesPerFrame)
	}
	return nil
}
