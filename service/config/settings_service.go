package config

import "time"

type settingsService struct {
	s Settings
}

// New loads the settings (see Load) and exposes them through IService.
func New(path string) (IService, error) {
	s, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &settingsService{s: s}, nil
}

// NewFromSettings wraps already built settings. Used by tests and the
// standalone mode to override single values.
func NewFromSettings(s Settings) IService {
	return &settingsService{s: s}
}

func (svc *settingsService) IsDev() bool                         { return svc.s.RunTimeEnv == "dev" || svc.s.RunTimeEnv == "" }
func (svc *settingsService) GetLogLevel() string                 { return svc.s.LogLevel }
func (svc *settingsService) GetLogFile() string                  { return svc.s.LogFile }
func (svc *settingsService) GetModeMaxShutdownTime() int         { return svc.s.ModeMaxShutdown }
func (svc *settingsService) GetModePeriodicTimeout() int         { return svc.s.ModePeriodic }
func (svc *settingsService) GetDataFolder() string               { return svc.s.DataFolder }
func (svc *settingsService) GetAWSRegion() string                { return svc.s.AWSRegion }
func (svc *settingsService) GetQueueBackend() string             { return svc.s.QueueBackend }
func (svc *settingsService) GetSQSEndpoint() string              { return svc.s.SQSEndpoint }
func (svc *settingsService) GetRequestQueueURL() string          { return svc.s.RequestQueueURL }
func (svc *settingsService) GetResponseQueueURL() string         { return svc.s.ResponseQueueURL }
func (svc *settingsService) GetVisibilityTimeout() time.Duration { return svc.s.VisibilityTimeout }
func (svc *settingsService) GetReceiveBatch() int                { return svc.s.ReceiveBatch }
func (svc *settingsService) GetReceiveWait() time.Duration       { return svc.s.ReceiveWait }
func (svc *settingsService) GetMaxReceiveCount() int             { return svc.s.MaxReceiveCount }
func (svc *settingsService) GetRecognizerWorkers() int           { return svc.s.RecognizerWorkers }
func (svc *settingsService) GetHTTPAddr() string                 { return svc.s.HTTPAddr }
func (svc *settingsService) GetIntakeRate() float64              { return svc.s.IntakeRate }
func (svc *settingsService) GetIntakeBurst() int                 { return svc.s.IntakeBurst }
func (svc *settingsService) GetDetectTimeout() time.Duration     { return svc.s.DetectTimeout }
func (svc *settingsService) GetMaxFrameBytes() int               { return svc.s.MaxFrameBytes }
func (svc *settingsService) GetMaxFacesPerFrame() int            { return svc.s.MaxFacesPerFrame }
func (svc *settingsService) GetInferenceBackend() string         { return svc.s.InferenceBackend }
func (svc *settingsService) GetCascadePath() string              { return svc.s.CascadePath }
func (svc *settingsService) GetFaceModelsDir() string            { return svc.s.FaceModelsDir }
func (svc *settingsService) GetMatchTolerance() float32          { return svc.s.MatchTolerance }
func (svc *settingsService) GetGallerySource() string            { return svc.s.GallerySource }
func (svc *settingsService) GetGalleryFile() string              { return svc.s.GalleryFile }
func (svc *settingsService) GetGalleryDBURL() string             { return svc.s.GalleryDBURL }
func (svc *settingsService) GetMQTTBroker() string               { return svc.s.MQTTBroker }
func (svc *settingsService) GetMQTTTopic() string                { return svc.s.MQTTTopic }
func (svc *settingsService) GetTraceExporter() string             { return svc.s.TraceExporter }
