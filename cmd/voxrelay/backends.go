package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxrelay/internal/config"
	"github.com/MrWong99/voxrelay/internal/model"
	"github.com/MrWong99/voxrelay/internal/model/loopback"
	"github.com/MrWong99/voxrelay/internal/model/onnx"
	"github.com/MrWong99/voxrelay/internal/relay"
	"github.com/MrWong99/voxrelay/internal/tokenizer"
	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/audio/opusstream"
	"github.com/MrWong99/voxrelay/pkg/audio/rawpcm"
)

// registerBuiltinBackends wires every model backend and wire codec that ships
// with voxrelay into reg. tok supplies the reserved text ids backends emit as
// filler.
func registerBuiltinBackends(reg *config.Registry, tok config.TokenizerConfig) {
	reg.RegisterModel("loopback", func(cfg config.ModelConfig) (model.Resource, error) {
		return loopback.New(loopback.Config{
			SampleRate: cfg.SampleRate,
			FrameRate:  cfg.FrameRate,
			DelaySteps: cfg.Loopback.DelaySteps,
			TextTokens: cfg.Loopback.TextTokens,
			PadID:      tok.Pad(),
		})
	})

	reg.RegisterModel("onnx", func(cfg config.ModelConfig) (model.Resource, error) {
		return onnx.New(onnx.Config{
			LibraryPath: cfg.ONNX.LibraryPath,
			Encoder:     onnx.GraphConfig(cfg.ONNX.Encoder),
			LM:          onnx.GraphConfig(cfg.ONNX.LM),
			Decoder:     onnx.GraphConfig(cfg.ONNX.Decoder),
			SampleRate:  cfg.SampleRate,
			FrameRate:   cfg.FrameRate,
			Codebooks:   cfg.ONNX.Codebooks,
			DelaySteps:  cfg.ONNX.DelaySteps,
		})
	})

	reg.RegisterCodec(opusstream.Name, func(cfg config.AudioConfig) (audio.Codec, error) {
		return opusstream.Codec{Bitrate: cfg.OpusBitrate, FrameMs: cfg.OpusFrameMs}, nil
	})

	reg.RegisterCodec(rawpcm.Name, func(config.AudioConfig) (audio.Codec, error) {
		return rawpcm.Codec{}, nil
	})

	slog.Debug("registered backends", "models", reg.Models(), "codecs", reg.Codecs())
}

// backends is everything a session needs from the configured backends.
type backends struct {
	Model     model.Resource
	Codec     audio.Codec
	Tokenizer relay.Tokenizer
}

// Close releases the model if it holds native resources.
func (b *backends) Close() error {
	if c, ok := b.Model.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// buildBackends instantiates the model, codec and tokenizer named in cfg.
func buildBackends(cfg *config.Config, reg *config.Registry) (*backends, error) {
	res, err := reg.CreateModel(cfg.Model)
	if err != nil {
		return nil, err
	}
	b := &backends{Model: res}

	b.Codec, err = reg.CreateCodec(cfg.Audio)
	if err != nil {
		b.Close()
		return nil, err
	}

	// Leave the interface nil when no vocabulary is configured.
	if path := cfg.Tokenizer.Path; path != "" {
		tok, err := tokenizer.Load(path)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("load tokenizer: %w", err)
		}
		b.Tokenizer = tok
		slog.Info("tokenizer loaded", "path", path, "pieces", tok.Len())
	}
	return b, nil
}
