// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gauthier-th/whisper-dashboard/transcript"
)

// CommandEngine shells out to the openai-whisper command line tool.
type CommandEngine struct {
	command   string
	extraArgs []string
	logger    *slog.Logger
}

func NewCommandEngine(command string, extraArgs ...string) *CommandEngine {
	return &CommandEngine{
		command:   command,
		extraArgs: extraArgs,
		logger:    slog.With("component", "engine", "engine", "command"),
	}
}

func (e *CommandEngine) Name() string { return "command" }

func (e *CommandEngine) Close() error { return nil }

// Args builds the whisper command line for req.
func (e *CommandEngine) Args(req Request) []string {
	args := []string{req.Input, "--output_dir", req.OutputDir, "--output_format", "all"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.ModelDir != "" {
		args = append(args, "--model_dir", req.ModelDir)
	}
	if lang := NormalizeLanguage(req.Language); lang != "" {
		args = append(args, "--language", lang)
	}
	return append(args, e.extraArgs...)
}

func (e *CommandEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	cmd := exec.CommandContext(ctx, e.command, e.Args(req)...)
	cmd.Env = os.Environ()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// Do not hang on grandchildren still holding stderr after a kill.
	cmd.WaitDelay = 10 * time.Second

	e.logger.Debug("running whisper", "args", cmd.Args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("whisper failed: %s", lastLine(stderr.String(), exitErr))
		}
		return Result{}, fmt.Errorf("run whisper: %w", err)
	}

	formats := producedFormats(req.OutputDir, filepath.Base(req.Input))
	if len(formats) == 0 {
		return Result{}, fmt.Errorf("whisper produced no transcript for %s", filepath.Base(req.Input))
	}
	return Result{Formats: formats, Language: NormalizeLanguage(req.Language)}, nil
}

// producedFormats lists the transcript formats present for input in dir.
func producedFormats(dir, input string) []string {
	var formats []string
	for _, format := range transcript.Formats {
		if _, err := os.Stat(filepath.Join(dir, transcript.FileFor(input, format))); err == nil {
			formats = append(formats, format)
		}
	}
	return formats
}

// lastLine keeps the end of stderr, where python prints the actual error.
func lastLine(stderr string, exitErr *exec.ExitError) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return exitErr.Error()
	}
	lines := strings.Split(stderr, "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
