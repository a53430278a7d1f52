// Package config provides the configuration schema, loader, and backend
// registry for the voxrelay server.
package config

import "time"

// LogLevel controls log verbosity for the voxrelay server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxrelay.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Session   SessionConfig   `yaml:"session"`
	Model     ModelConfig     `yaml:"model"`
	Tokenizer TokenizerConfig `yaml:"tokenizer"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default: "localhost:8998".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default: info.
	LogLevel LogLevel `yaml:"log_level"`

	// ChatPath is the WebSocket upgrade endpoint. Default: "/api/chat".
	ChatPath string `yaml:"chat_path"`

	// StaticDir, when set, is served at "/" for the browser client.
	StaticDir string `yaml:"static_dir"`

	// OriginPatterns lists cross-origin hosts allowed to open the chat
	// socket, in path.Match syntax. Same-origin requests are always allowed.
	OriginPatterns []string `yaml:"origin_patterns"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown. Default: 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig selects the wire codec spoken with clients.
type AudioConfig struct {
	// Codec names a registered codec ("opus" or "pcm16"). Default: opus.
	Codec string `yaml:"codec"`

	// OpusBitrate is the encoder target in bits per second. 0 keeps the
	// libopus default.
	OpusBitrate int `yaml:"opus_bitrate"`

	// OpusFrameMs is the outbound Opus frame duration. Default: 20.
	OpusFrameMs int `yaml:"opus_frame_ms"`
}

// SessionConfig sizes the per-session queues between the ingest, process and
// egress loops.
type SessionConfig struct {
	// InboundQueue is the number of client audio messages buffered ahead of
	// the process loop. Default: 64.
	InboundQueue int `yaml:"inbound_queue"`

	// OutboundQueue is the number of server messages buffered ahead of the
	// egress loop. Default: 64.
	OutboundQueue int `yaml:"outbound_queue"`
}

// ModelConfig selects and configures the model backend.
type ModelConfig struct {
	// Backend names a registered model backend ("loopback" or "onnx").
	// Default: loopback.
	Backend string `yaml:"backend"`

	// SampleRate in Hz. Default: 24000.
	SampleRate int `yaml:"sample_rate"`

	// FrameRate in model frames per second. Default: 12.5.
	FrameRate float64 `yaml:"frame_rate"`

	// WarmupFrames is the number of silent frames run at startup. Default: 4.
	WarmupFrames int `yaml:"warmup_frames"`

	Loopback LoopbackConfig `yaml:"loopback"`
	ONNX     ONNXConfig     `yaml:"onnx"`
}

// LoopbackConfig configures the in-process echo backend.
type LoopbackConfig struct {
	// DelaySteps is the number of steps before audio is echoed back.
	DelaySteps int `yaml:"delay_steps"`

	// TextTokens are replayed on the text channel, cycling.
	TextTokens []int32 `yaml:"text_tokens"`
}

// ONNXConfig configures the ONNX Runtime backend.
type ONNXConfig struct {
	// LibraryPath is the onnxruntime shared library location.
	LibraryPath string `yaml:"library_path"`

	Encoder GraphConfig `yaml:"encoder"`
	LM      GraphConfig `yaml:"lm"`
	Decoder GraphConfig `yaml:"decoder"`

	// Codebooks is the number of audio codebooks per step. Default: 8.
	Codebooks int `yaml:"codebooks"`

	// DelaySteps is the number of LM steps that produce no output.
	DelaySteps int `yaml:"delay_steps"`
}

// GraphConfig locates one ONNX graph.
type GraphConfig struct {
	Path      string `yaml:"path"`
	StateSize int    `yaml:"state_size"`
}

// TokenizerConfig configures text-token rendering.
type TokenizerConfig struct {
	// Path is a SentencePiece .model or .vocab file. When empty, text tokens
	// are not rendered.
	Path string `yaml:"path"`

	// PadID is the text token emitted when the model has nothing to say.
	// Default: 3.
	PadID *int32 `yaml:"pad_id"`

	// EndID marks the end of a text span. Default: 0.
	EndID *int32 `yaml:"end_id"`

	// WordBoundary is the marker replaced by a space. Default: "▁".
	WordBoundary string `yaml:"word_boundary"`
}

// Pad returns the configured pad id.
func (t TokenizerConfig) Pad() int32 { return derefOr(t.PadID, 3) }

// End returns the configured end id.
func (t TokenizerConfig) End() int32 { return derefOr(t.EndID, 0) }

func derefOr(p *int32, def int32) int32 {
	if p == nil {
		return def
	}
	return *p
}

// BreakerConfig tunes the model-health circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive sessions ending in a model
	// failure before new sessions are refused. Default: 3.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long sessions are refused before a probe session is
	// admitted. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default: "voxrelay".
	ServiceName string `yaml:"service_name"`

	// MetricsPath serves Prometheus metrics. Default: "/metrics".
	MetricsPath string `yaml:"metrics_path"`
}
