// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp(t.TempDir(), "config.*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: testhost
  port: 9090

api:
  base_path: /api/v1
  swagger_host: test.api.com

database:
  path: /data/dashboard.db

storage:
  files_dir: /data/files
  inbox_dir: /data/inbox

whisper:
  engine: whispercpp
  model: small
  model_path: /path/to/model
  language: fr
  extra_args: ["--fp16", "False"]

scheduler:
  max_parallel: 3
  poll_interval_seconds: 5

audio:
  sample_rate: 16000
  max_file_size_mb: 10

metrics:
  enabled: true
  path: /metrics

auth:
  enabled: true
  tokens:
    - token: abc
      user: alice
      admin: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "testhost", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/api/v1", cfg.API.BasePath)
	assert.Equal(t, "/data/dashboard.db", cfg.Database.Path)
	assert.Equal(t, "/data/inbox", cfg.Storage.InboxDir)
	assert.Equal(t, EngineWhisperCpp, cfg.Whisper.Engine)
	assert.Equal(t, []string{"--fp16", "False"}, cfg.Whisper.ExtraArgs)
	assert.Equal(t, 1, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 5*time.Second, cfg.PollInterval())
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSizeBytes())
	assert.True(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.Auth.Tokens, 1)
	assert.Equal(t, StaticToken{Token: "abc", User: "alice", Admin: true}, cfg.Auth.Tokens[0])
}

func TestDefaultValues(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/", cfg.API.BasePath)
	assert.Equal(t, "whisper-dashboard.db", cfg.Database.Path)
	assert.Equal(t, "files", cfg.Storage.FilesDir)
	assert.Equal(t, "inbox", cfg.Storage.InboxDir)
	assert.Equal(t, EngineCommand, cfg.Whisper.Engine)
	assert.Equal(t, "whisper", cfg.Whisper.Command)
	assert.Equal(t, "tiny", cfg.Whisper.Model)
	assert.Equal(t, "models/ggml-base.bin", cfg.Whisper.ModelPath)
	assert.Equal(t, 1, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.PollInterval())
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, time.Hour, cfg.LinkTTL())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Contains(t, cfg.Auth.Postgres.Query, "user_id")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("MAX_PARALLEL_TRANSCRIPTIONS", "4")
	t.Setenv("WHISPER_MODEL", "medium")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 9090\nwhisper:\n  model: tiny\n"))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Scheduler.MaxParallel)
	assert.Equal(t, "medium", cfg.Whisper.Model)
}

func TestMaxParallelPerEngine(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "whisper:\n  engine: command\nscheduler:\n  max_parallel: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Scheduler.MaxParallel)

	cfg, err = LoadConfig(writeConfig(t, "whisper:\n  engine: whispercpp\nscheduler:\n  max_parallel: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scheduler.MaxParallel)

	t.Setenv("MAX_PARALLEL_TRANSCRIPTIONS", "4")
	cfg, err = LoadConfig(writeConfig(t, "whisper:\n  engine: whispercpp\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Scheduler.MaxParallel)
}

func TestInvalidConfig(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConfig("does-not-exist.yaml")
		assert.Error(t, err)
	})

	t.Run("BadYAML", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "server: [oops"))
		assert.Error(t, err)
	})

	t.Run("UnknownEngine", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "whisper:\n  engine: cloud\n"))
		assert.ErrorContains(t, err, "unknown whisper engine")
	})

	t.Run("NegativeParallelism", func(t *testing.T) {
		_, err := LoadConfig(writeConfig(t, "scheduler:\n  max_parallel: -2\n"))
		assert.ErrorContains(t, err, "max_parallel")
	})

	t.Run("BadPortEnv", func(t *testing.T) {
		t.Setenv("PORT", "eighty")
		_, err := LoadConfig(writeConfig(t, "{}"))
		assert.ErrorContains(t, err, "PORT")
	})
}
