package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxrelay/internal/config"
)

func TestLoadFromReader_Empty(t *testing.T) {
	t.Parallel()
	cfg := mustLoad(t, "")

	checks := []struct {
		name      string
		got, want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, "localhost:8998"},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"chat_path", cfg.Server.ChatPath, "/api/chat"},
		{"shutdown_timeout", cfg.Server.ShutdownTimeout, 15 * time.Second},
		{"codec", cfg.Audio.Codec, "opus"},
		{"opus_frame_ms", cfg.Audio.OpusFrameMs, 20},
		{"inbound_queue", cfg.Session.InboundQueue, 64},
		{"backend", cfg.Model.Backend, "loopback"},
		{"sample_rate", cfg.Model.SampleRate, 24000},
		{"frame_rate", cfg.Model.FrameRate, 12.5},
		{"warmup_frames", cfg.Model.WarmupFrames, 4},
		{"word_boundary", cfg.Tokenizer.WordBoundary, "▁"},
		{"max_failures", cfg.Breaker.MaxFailures, 3},
		{"metrics_path", cfg.Telemetry.MetricsPath, "/metrics"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadFromReader_EnvExpansion(t *testing.T) {
	t.Setenv("VOXRELAY_TEST_ADDR", ":7777")
	cfg := mustLoad(t, "server:\n  listen_addr: \"${VOXRELAY_TEST_ADDR}\"\n")
	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":7777")
	}
}

func TestLoadFromReader_UndefinedEnv(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("tokenizer:\n  path: ${VOXRELAY_SURELY_UNSET_VAR}\n"))
	if err == nil || !strings.Contains(err.Error(), "VOXRELAY_SURELY_UNSET_VAR") {
		t.Errorf("err: got %v, want mention of the missing variable", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\n",
			wantMsg: "server.log_level",
		},
		{
			name:    "chat path without slash",
			yaml:    "server:\n  chat_path: chat\n",
			wantMsg: "server.chat_path",
		},
		{
			name:    "tls missing key",
			yaml:    "server:\n  tls:\n    cert_file: c.pem\n",
			wantMsg: "server.tls",
		},
		{
			name:    "non-integral frame size",
			yaml:    "model:\n  sample_rate: 24000\n  frame_rate: 7\n",
			wantMsg: "frame rate",
		},
		{
			name:    "opus at unsupported rate",
			yaml:    "model:\n  sample_rate: 22050\n  frame_rate: 25\n",
			wantMsg: "audio.codec opus",
		},
		{
			name:    "bad opus frame",
			yaml:    "audio:\n  opus_frame_ms: 15\n",
			wantMsg: "audio.opus_frame_ms",
		},
		{
			name:    "onnx without graphs",
			yaml:    "model:\n  backend: onnx\ntokenizer:\n  path: t.model\n",
			wantMsg: "model.onnx.lm.path",
		},
		{
			name:    "onnx without tokenizer",
			yaml:    "model:\n  backend: onnx\n  onnx:\n    encoder: {path: e}\n    lm: {path: l}\n    decoder: {path: d}\n",
			wantMsg: "tokenizer.path",
		},
		{
			name:    "negative breaker",
			yaml:    "breaker:\n  max_failures: -1\n",
			wantMsg: "breaker.max_failures",
		},
		{
			name:    "metrics path collides",
			yaml:    "telemetry:\n  metrics_path: /api/chat\n",
			wantMsg: "telemetry.metrics_path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate_PCM16AnyRate(t *testing.T) {
	t.Parallel()
	mustLoad(t, "audio:\n  codec: pcm16\nmodel:\n  sample_rate: 22050\n  frame_rate: 25\n")
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Model.Backend != "loopback" {
		t.Errorf("backend: got %q, want loopback", cfg.Model.Backend)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err: got %v, want ErrNotExist", err)
	}
}
