// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

// Package engine runs speech-to-text on a stored audio file and leaves the
// transcripts next to it.
package engine

import (
	"context"
	"fmt"

	"github.com/gauthier-th/whisper-dashboard/config"
)

// Request describes one transcription.
type Request struct {
	Input     string // audio file
	OutputDir string // transcripts are written as <OutputDir>/<input base>.<format>
	Model     string
	ModelDir  string
	Language  string // empty means auto-detect
}

type Result struct {
	Formats  []string
	Language string
}

type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}

// New builds the engine selected by whisper.engine.
func New(cfg *config.Config) (Engine, error) {
	switch cfg.Whisper.Engine {
	case config.EngineCommand:
		return NewCommandEngine(cfg.Whisper.Command, cfg.Whisper.ExtraArgs...), nil
	case config.EngineWhisperCpp:
		return NewWhisperCppEngine(cfg.Whisper.ModelPath, cfg.Audio.SampleRate, cfg.Whisper.Threads)
	}
	return nil, fmt.Errorf("unknown whisper engine %q", cfg.Whisper.Engine)
}

// NormalizeLanguage maps the values clients send for "detect it" to "".
func NormalizeLanguage(lang string) string {
	switch lang {
	case "", "null", "auto", "undefined":
		return ""
	}
	return lang
}
