package gladia

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"casescribe/internal/domain"
	"casescribe/internal/observability"
	"casescribe/internal/ports"
)

const (
	DefaultAPIBaseURL = "https://api.gladia.io/v2"

	DefaultEncoding   = "pcm16"
	DefaultSampleRate = 16000
	DefaultBitDepth   = 16
	DefaultChannels   = 1

	apiKeyHeader = "X-Gladia-Key"
)

// Config controls the provisioning call and the streaming connection.
type Config struct {
	APIKey     string
	APIBaseURL string
	Format     domain.AudioFormat

	HandshakeTimeout time.Duration
	CloseTimeout     time.Duration
	SendQueueSize    int

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Provider implements ports.TranscriptionProvider for Gladia live sessions.
type Provider struct {
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewProvider(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Provider {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = DefaultAPIBaseURL
	}
	cfg.Format = withFormatDefaults(cfg.Format)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 32
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HandshakeTimeout}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	return &Provider{cfg: cfg, logger: logger, metrics: metrics}
}

// NewSession returns an unstarted session that owns its own connection.
func (p *Provider) NewSession() ports.TranscriptionSession {
	return newSession(p.cfg, p.logger, p.metrics)
}

func withFormatDefaults(format domain.AudioFormat) domain.AudioFormat {
	if strings.TrimSpace(format.Encoding) == "" {
		format.Encoding = DefaultEncoding
	}
	if format.SampleRate <= 0 {
		format.SampleRate = DefaultSampleRate
	}
	if format.BitDepth <= 0 {
		format.BitDepth = DefaultBitDepth
	}
	if format.Channels <= 0 {
		format.Channels = DefaultChannels
	}
	return format
}
