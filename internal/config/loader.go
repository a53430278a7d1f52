package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voxrelay/pkg/audio"
)

// ValidBackendNames lists known names per registry kind. Used by [Validate]
// to warn about unrecognised names.
var ValidBackendNames = map[string][]string{
	"model": {"loopback", "onnx"},
	"codec": {"opus", "pcm16"},
}

// opusRates are the sample rates the Opus codec can run at.
var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// envRef matches ${VAR} references.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} with the variable's value. Unset variables are an
// error so that a missing secret fails loudly instead of becoming "".
func expandEnv(raw []byte) (string, error) {
	var missing []string
	out := envRef.ReplaceAllStringFunc(string(raw), func(ref string) string {
		name := envRef.FindStringSubmatch(ref)[1]
		v, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("config: undefined environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// ApplyDefaults fills every zero-valued field that has a documented default.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, "localhost:8998")
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ChatPath, "/api/chat")
	setDefault(&cfg.Server.ShutdownTimeout, 15*time.Second)

	setDefault(&cfg.Audio.Codec, "opus")
	setDefault(&cfg.Audio.OpusFrameMs, 20)

	setDefault(&cfg.Session.InboundQueue, 64)
	setDefault(&cfg.Session.OutboundQueue, 64)

	setDefault(&cfg.Model.Backend, "loopback")
	setDefault(&cfg.Model.SampleRate, 24000)
	setDefault(&cfg.Model.FrameRate, 12.5)
	setDefault(&cfg.Model.WarmupFrames, 4)
	setDefault(&cfg.Model.ONNX.Codebooks, 8)

	setDefault(&cfg.Tokenizer.WordBoundary, "▁")

	setDefault(&cfg.Breaker.MaxFailures, 3)
	setDefault(&cfg.Breaker.ResetTimeout, 30*time.Second)

	setDefault(&cfg.Telemetry.ServiceName, "voxrelay")
	setDefault(&cfg.Telemetry.MetricsPath, "/metrics")
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ChatPath != "" && !strings.HasPrefix(cfg.Server.ChatPath, "/") {
		errs = append(errs, fmt.Errorf("server.chat_path %q must start with /", cfg.Server.ChatPath))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.StaticDir != "" {
		if info, err := os.Stat(cfg.Server.StaticDir); err != nil || !info.IsDir() {
			slog.Warn("server.static_dir is not a readable directory; static client will not be served",
				"static_dir", cfg.Server.StaticDir)
		}
	}

	// Model
	validateBackendName("model", cfg.Model.Backend)
	if cfg.Model.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("model.sample_rate %d must be positive", cfg.Model.SampleRate))
	}
	if cfg.Model.SampleRate > 0 && cfg.Model.FrameRate > 0 {
		if _, err := audio.FrameSize(cfg.Model.SampleRate, cfg.Model.FrameRate); err != nil {
			errs = append(errs, fmt.Errorf("model: %w", err))
		}
	} else if cfg.Model.FrameRate < 0 {
		errs = append(errs, fmt.Errorf("model.frame_rate %g must be positive", cfg.Model.FrameRate))
	}
	if cfg.Model.WarmupFrames < 0 {
		errs = append(errs, fmt.Errorf("model.warmup_frames %d must not be negative", cfg.Model.WarmupFrames))
	}
	if cfg.Model.Loopback.DelaySteps < 0 {
		errs = append(errs, fmt.Errorf("model.loopback.delay_steps %d must not be negative", cfg.Model.Loopback.DelaySteps))
	}
	if cfg.Model.Backend == "onnx" {
		for name, g := range map[string]GraphConfig{"encoder": cfg.Model.ONNX.Encoder, "lm": cfg.Model.ONNX.LM, "decoder": cfg.Model.ONNX.Decoder} {
			if g.Path == "" {
				errs = append(errs, fmt.Errorf("model.onnx.%s.path is required when backend is onnx", name))
			}
		}
		if cfg.Tokenizer.Path == "" {
			errs = append(errs, errors.New("tokenizer.path is required when backend is onnx"))
		}
	}

	// Audio
	validateBackendName("codec", cfg.Audio.Codec)
	if cfg.Audio.Codec == "opus" && cfg.Model.SampleRate > 0 && !slices.Contains(opusRates, cfg.Model.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.codec opus cannot run at model.sample_rate %d; valid rates: %v", cfg.Model.SampleRate, opusRates))
	}
	switch cfg.Audio.OpusFrameMs {
	case 0, 10, 20, 40, 60:
	default:
		errs = append(errs, fmt.Errorf("audio.opus_frame_ms %d is invalid; valid values: 10, 20, 40, 60", cfg.Audio.OpusFrameMs))
	}
	if cfg.Audio.OpusBitrate < 0 {
		errs = append(errs, fmt.Errorf("audio.opus_bitrate %d must not be negative", cfg.Audio.OpusBitrate))
	}

	// Session
	if cfg.Session.InboundQueue < 0 || cfg.Session.OutboundQueue < 0 {
		errs = append(errs, errors.New("session queue sizes must not be negative"))
	}

	// Tokenizer
	if cfg.Tokenizer.Path == "" && cfg.Model.Backend != "onnx" {
		slog.Warn("tokenizer.path is empty; text tokens will not be sent to clients")
	}
	if cfg.Tokenizer.PadID != nil && cfg.Tokenizer.EndID != nil && *cfg.Tokenizer.PadID == *cfg.Tokenizer.EndID {
		slog.Warn("tokenizer.pad_id equals tokenizer.end_id", "id", *cfg.Tokenizer.PadID)
	}

	// Breaker
	if cfg.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("breaker.max_failures %d must not be negative", cfg.Breaker.MaxFailures))
	}
	if cfg.Breaker.ResetTimeout < 0 {
		errs = append(errs, fmt.Errorf("breaker.reset_timeout %s must not be negative", cfg.Breaker.ResetTimeout))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && (!strings.HasPrefix(p, "/") || p == cfg.Server.ChatPath) {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with / and differ from server.chat_path", p))
	}

	return errors.Join(errs...)
}

// validateBackendName logs a warning if name is non-empty and not found in
// the [ValidBackendNames] list for the given kind.
func validateBackendName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidBackendNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown backend name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
