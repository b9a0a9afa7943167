package bootstrap

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"casescribe/internal/audio"
	"casescribe/internal/config"
	"casescribe/internal/domain"
	"casescribe/internal/observability"
	"casescribe/internal/ports"
	"casescribe/internal/providers/gladia"
	"casescribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.SessionController
	Document   *usecase.SummaryDocument
	Config     config.Config
	Logger     zerolog.Logger
	Registry   *prometheus.Registry

	metricsServer *observability.MetricsServer
}

// Build loads configuration and wires all backend dependencies.
func Build(eventSink ports.EventSink) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWith(cfg, eventSink), nil
}

// BuildWith wires the runtime graph from an explicit configuration.
func BuildWith(cfg config.Config, eventSink ports.EventSink) Services {
	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Pretty)
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	recorder := audio.NewRecorder(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		ports.AudioConfig{
			SampleRate:       cfg.Gladia.SampleRate,
			Channels:         cfg.Gladia.Channels,
			InputFormat:      cfg.Audio.InputFormat,
			InputDevice:      cfg.Audio.InputDevice,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
		},
		cfg.Session.FrameSamples,
		observability.Component(logger, "recorder"),
	)

	provider := gladia.NewProvider(gladia.Config{
		APIKey:     cfg.Gladia.APIKey,
		APIBaseURL: cfg.Gladia.APIBaseURL,
		Format: domain.AudioFormat{
			Encoding:   cfg.Gladia.Encoding,
			SampleRate: cfg.Gladia.SampleRate,
			BitDepth:   cfg.Gladia.BitDepth,
			Channels:   cfg.Gladia.Channels,
		},
		HandshakeTimeout: cfg.Gladia.HandshakeTimeout,
		CloseTimeout:     cfg.Gladia.CloseTimeout,
	}, observability.Component(logger, "gladia"), metrics)

	controller := usecase.NewSessionController(
		recorder,
		provider,
		eventSink,
		observability.Component(logger, "controller"),
		metrics,
	)

	services := Services{
		Controller: controller,
		Document:   usecase.NewSummaryDocument(""),
		Config:     cfg,
		Logger:     logger,
		Registry:   registry,
	}
	if cfg.Metrics.Addr != "" {
		services.metricsServer = observability.NewMetricsServer(cfg.Metrics.Addr, registry, observability.Component(logger, "metrics"))
	}
	return services
}

// Start launches background listeners.
func (s Services) Start() {
	if s.metricsServer != nil {
		s.metricsServer.Start()
	}
}

// Shutdown ends any dictation session and stops background listeners.
func (s Services) Shutdown(ctx context.Context) error {
	if s.Controller != nil {
		s.Controller.EndSession()
	}
	if s.metricsServer != nil {
		return s.metricsServer.Shutdown(ctx)
	}
	return nil
}
