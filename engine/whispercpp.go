// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gauthier-th/whisper-dashboard/audio"
	"github.com/gauthier-th/whisper-dashboard/metrics"
	"github.com/gauthier-th/whisper-dashboard/transcript"
	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// WhisperCppEngine runs a ggml model in process. The model shares one
// whisper.cpp state, so jobs take turns.
type WhisperCppEngine struct {
	model      whisper.Model
	sampleRate int
	threads    uint
	mu         sync.Mutex
	logger     *slog.Logger
}

func NewWhisperCppEngine(modelPath string, sampleRate int, threads uint) (*WhisperCppEngine, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}
	return &WhisperCppEngine{
		model:      model,
		sampleRate: sampleRate,
		threads:    threads,
		logger:     slog.With("component", "engine", "engine", "whispercpp"),
	}, nil
}

func (e *WhisperCppEngine) Name() string { return "whispercpp" }

func (e *WhisperCppEngine) Close() error {
	return e.model.Close()
}

func (e *WhisperCppEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	samples, err := audio.LoadSamples(req.Input, e.sampleRate)
	if err != nil {
		return Result{}, fmt.Errorf("failed to convert audio: %w", err)
	}
	if len(samples) == 0 {
		return Result{}, fmt.Errorf("no audio samples in %s", filepath.Base(req.Input))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create whisper context: %w", err)
	}
	lang := NormalizeLanguage(req.Language)
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return Result{}, fmt.Errorf("unsupported language %q: %w", lang, err)
	}
	wctx.SetTranslate(false)
	if e.threads > 0 {
		wctx.SetThreads(e.threads)
	}

	var out transcript.Transcript
	out.Language = NormalizeLanguage(req.Language)
	segmentCallback := func(seg whisper.Segment) {
		out.Segments = append(out.Segments, transcript.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  seg.Text,
		})
	}

	// whisper.cpp cannot be interrupted mid-run; the abort only takes
	// effect between encoder passes.
	encoderBegin := func() bool {
		return ctx.Err() == nil
	}

	start := time.Now()
	if err := wctx.Process(samples, encoderBegin, segmentCallback, nil); err != nil {
		return Result{}, fmt.Errorf("failed to process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	metrics.InferenceTime.WithLabelValues(e.Name()).Observe(time.Since(start).Seconds())
	e.logger.Debug("processed audio", "file", filepath.Base(req.Input), "segments", len(out.Segments))

	base := transcript.Base(filepath.Base(req.Input))
	formats, err := transcript.WriteAll(req.OutputDir, base, out)
	if err != nil {
		return Result{}, err
	}
	return Result{Formats: formats, Language: out.Language}, nil
}
