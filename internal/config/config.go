package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	defaultAPIBaseURL       = "https://api.gladia.io/v2"
	defaultEncoding         = "wav/pcm"
	defaultSampleRate       = 16000
	defaultBitDepth         = 16
	defaultChannels         = 1
	defaultFrameSamples     = 4096
	defaultHandshakeTimeout = 10 * time.Second
	defaultCloseTimeout     = 2 * time.Second
)

// Config stores runtime configuration for the dictation host.
type Config struct {
	Gladia  GladiaConfig
	Audio   AudioConfig
	Session SessionConfig
	Log     LogConfig
	Metrics MetricsConfig
}

// GladiaConfig describes the transcription service and the stream format
// announced to it. Capture uses the same sample rate and channel count.
type GladiaConfig struct {
	APIKey           string
	APIBaseURL       string
	Encoding         string
	SampleRate       int
	BitDepth         int
	Channels         int
	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
}

type AudioConfig struct {
	RecorderCommand  string
	InputFormat      string
	InputDevice      string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

type SessionConfig struct {
	FrameSamples int
}

type LogConfig struct {
	Level  string
	Pretty bool
}

type MetricsConfig struct {
	// Addr enables the /metrics listener when set.
	Addr string
}

type env struct {
	GladiaAPIKey  string `envconfig:"GLADIA_API_KEY"`
	GladiaAPIBase string `envconfig:"GLADIA_API_BASE" default:"https://api.gladia.io/v2"`

	Encoding         string        `envconfig:"STT_ENCODING" default:"wav/pcm"`
	SampleRate       int           `envconfig:"STT_SAMPLE_RATE" default:"16000"`
	BitDepth         int           `envconfig:"STT_BIT_DEPTH" default:"16"`
	Channels         int           `envconfig:"STT_CHANNELS" default:"1"`
	FrameSamples     int           `envconfig:"STT_FRAME_SAMPLES" default:"4096"`
	HandshakeTimeout time.Duration `envconfig:"STT_HANDSHAKE_TIMEOUT" default:"10s"`
	CloseTimeout     time.Duration `envconfig:"STT_CLOSE_TIMEOUT" default:"2s"`

	FFMPEGCommand    string `envconfig:"CASESCRIBE_FFMPEG_COMMAND" default:"ffmpeg"`
	InputFormat      string `envconfig:"CASESCRIBE_AUDIO_INPUT_FORMAT" default:"pulse"`
	InputDevice      string `envconfig:"CASESCRIBE_AUDIO_INPUT_DEVICE" default:"default"`
	EchoCancellation bool   `envconfig:"CASESCRIBE_ECHO_CANCELLATION" default:"true"`
	NoiseSuppression bool   `envconfig:"CASESCRIBE_NOISE_SUPPRESSION" default:"true"`
	AutoGainControl  bool   `envconfig:"CASESCRIBE_AUTO_GAIN_CONTROL" default:"true"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty   bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsAddr string `envconfig:"METRICS_ADDR"`
}

// Load reads a .env file from the working directory when present, then
// resolves configuration from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv resolves configuration from the environment only. A missing
// API key is not an error here; it surfaces when dictation starts.
func LoadFromEnv() (Config, error) {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	cfg := Config{
		Gladia: GladiaConfig{
			APIKey:           strings.TrimSpace(e.GladiaAPIKey),
			APIBaseURL:       orDefault(e.GladiaAPIBase, defaultAPIBaseURL),
			Encoding:         orDefault(e.Encoding, defaultEncoding),
			SampleRate:       positiveOr(e.SampleRate, defaultSampleRate),
			BitDepth:         positiveOr(e.BitDepth, defaultBitDepth),
			Channels:         positiveOr(e.Channels, defaultChannels),
			HandshakeTimeout: positiveDurationOr(e.HandshakeTimeout, defaultHandshakeTimeout),
			CloseTimeout:     positiveDurationOr(e.CloseTimeout, defaultCloseTimeout),
		},
		Audio: AudioConfig{
			RecorderCommand:  orDefault(e.FFMPEGCommand, "ffmpeg"),
			InputFormat:      orDefault(e.InputFormat, "pulse"),
			InputDevice:      orDefault(e.InputDevice, "default"),
			EchoCancellation: e.EchoCancellation,
			NoiseSuppression: e.NoiseSuppression,
			AutoGainControl:  e.AutoGainControl,
		},
		Session: SessionConfig{
			FrameSamples: positiveOr(e.FrameSamples, defaultFrameSamples),
		},
		Log: LogConfig{
			Level:  orDefault(e.LogLevel, "info"),
			Pretty: e.LogPretty,
		},
		Metrics: MetricsConfig{
			Addr: strings.TrimSpace(e.MetricsAddr),
		},
	}
	return cfg, nil
}

func orDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func positiveOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveDurationOr(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}
