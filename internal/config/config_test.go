package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GLADIA_API_KEY", "")
	t.Setenv("METRICS_ADDR", "")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Gladia.APIKey != "" {
		t.Fatalf("expected empty api key, got %q", cfg.Gladia.APIKey)
	}
	if cfg.Gladia.APIBaseURL != "https://api.gladia.io/v2" {
		t.Fatalf("unexpected base url: %q", cfg.Gladia.APIBaseURL)
	}
	if cfg.Gladia.Encoding != "wav/pcm" || cfg.Gladia.SampleRate != 16000 || cfg.Gladia.BitDepth != 16 || cfg.Gladia.Channels != 1 {
		t.Fatalf("unexpected stream format: %+v", cfg.Gladia)
	}
	if cfg.Gladia.HandshakeTimeout != 10*time.Second || cfg.Gladia.CloseTimeout != 2*time.Second {
		t.Fatalf("unexpected timeouts: %+v", cfg.Gladia)
	}
	if cfg.Session.FrameSamples != 4096 {
		t.Fatalf("unexpected frame samples: %d", cfg.Session.FrameSamples)
	}
	if cfg.Audio.RecorderCommand != "ffmpeg" || cfg.Audio.InputFormat != "pulse" || cfg.Audio.InputDevice != "default" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if !cfg.Audio.EchoCancellation || !cfg.Audio.NoiseSuppression || !cfg.Audio.AutoGainControl {
		t.Fatalf("expected capture processing enabled by default: %+v", cfg.Audio)
	}
	if cfg.Log.Level != "info" || cfg.Log.Pretty {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Addr != "" {
		t.Fatalf("expected metrics disabled, got %q", cfg.Metrics.Addr)
	}
}

func TestLoadRespectsOverrides(t *testing.T) {
	t.Setenv("GLADIA_API_KEY", "  test-key ")
	t.Setenv("GLADIA_API_BASE", "https://example.com/v2")
	t.Setenv("STT_ENCODING", "pcm16")
	t.Setenv("STT_SAMPLE_RATE", "48000")
	t.Setenv("STT_CHANNELS", "2")
	t.Setenv("STT_FRAME_SAMPLES", "1024")
	t.Setenv("STT_HANDSHAKE_TIMEOUT", "3s")
	t.Setenv("CASESCRIBE_AUDIO_INPUT_DEVICE", "echo-cancel-source")
	t.Setenv("CASESCRIBE_NOISE_SUPPRESSION", "false")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("METRICS_ADDR", "127.0.0.1:9100")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Gladia.APIKey != "test-key" || cfg.Gladia.APIBaseURL != "https://example.com/v2" {
		t.Fatalf("unexpected gladia config: %+v", cfg.Gladia)
	}
	if cfg.Gladia.Encoding != "pcm16" || cfg.Gladia.SampleRate != 48000 || cfg.Gladia.Channels != 2 {
		t.Fatalf("unexpected stream format: %+v", cfg.Gladia)
	}
	if cfg.Gladia.HandshakeTimeout != 3*time.Second {
		t.Fatalf("unexpected handshake timeout: %s", cfg.Gladia.HandshakeTimeout)
	}
	if cfg.Session.FrameSamples != 1024 {
		t.Fatalf("unexpected frame samples: %d", cfg.Session.FrameSamples)
	}
	if cfg.Audio.InputDevice != "echo-cancel-source" || cfg.Audio.NoiseSuppression {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Fatalf("unexpected metrics addr: %q", cfg.Metrics.Addr)
	}
}

func TestLoadNormalizesNonPositiveValues(t *testing.T) {
	t.Setenv("STT_SAMPLE_RATE", "0")
	t.Setenv("STT_BIT_DEPTH", "-8")
	t.Setenv("STT_FRAME_SAMPLES", "-1")
	t.Setenv("STT_CLOSE_TIMEOUT", "0s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Gladia.SampleRate != 16000 || cfg.Gladia.BitDepth != 16 {
		t.Fatalf("expected format defaults, got %+v", cfg.Gladia)
	}
	if cfg.Session.FrameSamples != 4096 {
		t.Fatalf("expected frame default, got %d", cfg.Session.FrameSamples)
	}
	if cfg.Gladia.CloseTimeout != 2*time.Second {
		t.Fatalf("expected close timeout default, got %s", cfg.Gladia.CloseTimeout)
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	t.Setenv("STT_SAMPLE_RATE", "fast")

	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected invalid sample rate to fail")
	}
}
