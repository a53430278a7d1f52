package onnx

import "testing"

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	valid := Config{
		Encoder:    GraphConfig{Path: "enc.onnx", StateSize: 16},
		LM:         GraphConfig{Path: "lm.onnx", StateSize: 64},
		Decoder:    GraphConfig{Path: "dec.onnx"},
		SampleRate: 24000,
		FrameRate:  12.5,
		Codebooks:  8,
		DelaySteps: 2,
	}
	if err := valid.validate(); err != nil {
		t.Errorf("valid config: unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing lm path", mutate: func(c *Config) { c.LM.Path = "" }},
		{name: "negative state", mutate: func(c *Config) { c.Decoder.StateSize = -1 }},
		{name: "no codebooks", mutate: func(c *Config) { c.Codebooks = 0 }},
		{name: "negative delay", mutate: func(c *Config) { c.DelaySteps = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := valid
			tt.mutate(&c)
			if err := c.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
