// Copyright (c) 2024-2025 Darcy Buskermolen <darcy@dbitech.ca>
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineCommand    = "command"
	EngineWhisperCpp = "whispercpp"
)

// StaticToken is a bearer token declared directly in the config file.
type StaticToken struct {
	Token string `yaml:"token"`
	User  string `yaml:"user"`
	Admin bool   `yaml:"admin"`
}

type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	API struct {
		BasePath    string `yaml:"base_path"`
		SwaggerHost string `yaml:"swagger_host"`
	} `yaml:"api"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Storage struct {
		FilesDir string `yaml:"files_dir"`
		InboxDir string `yaml:"inbox_dir"`
	} `yaml:"storage"`

	Whisper struct {
		Engine    string   `yaml:"engine"`
		Command   string   `yaml:"command"`
		Model     string   `yaml:"model"`
		ModelDir  string   `yaml:"model_dir"`
		ModelPath string   `yaml:"model_path"` // ggml model, whispercpp engine only
		Language  string   `yaml:"language"`
		ExtraArgs []string `yaml:"extra_args"`
		Threads   uint     `yaml:"threads"`
	} `yaml:"whisper"`

	Scheduler struct {
		MaxParallel  int `yaml:"max_parallel"`
		PollInterval int `yaml:"poll_interval_seconds"`
	} `yaml:"scheduler"`

	Audio struct {
		SampleRate  int   `yaml:"sample_rate"`
		MaxFileSize int64 `yaml:"max_file_size_mb"`
	} `yaml:"audio"`

	Downloads struct {
		LinkTTL int `yaml:"link_ttl_seconds"`
	} `yaml:"downloads"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Auth struct {
		Enabled bool          `yaml:"enabled"`
		Tokens  []StaticToken `yaml:"tokens"` // Fallback static tokens
		Redis   struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			DB       int    `yaml:"db"`
			Password string `yaml:"password"`
			KeyTTL   int    `yaml:"key_ttl"` // TTL in seconds
		} `yaml:"redis"`
		Postgres struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			DBName   string `yaml:"dbname"`
			Table    string `yaml:"table"`
			Query    string `yaml:"query"` // Must select user_id, is_admin for $1
		} `yaml:"postgres"`
	} `yaml:"auth"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv honours the environment variables the dashboard has always been
// deployed with. They win over the file.
func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("MAX_PARALLEL_TRANSCRIPTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_PARALLEL_TRANSCRIPTIONS %q: %w", v, err)
		}
		c.Scheduler.MaxParallel = n
	}
	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		c.Whisper.Model = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.API.BasePath == "" {
		c.API.BasePath = "/"
	}
	if c.Database.Path == "" {
		c.Database.Path = "whisper-dashboard.db"
	}
	if c.Storage.FilesDir == "" {
		c.Storage.FilesDir = "files"
	}
	if c.Storage.InboxDir == "" {
		c.Storage.InboxDir = "inbox"
	}
	if c.Whisper.Engine == "" {
		c.Whisper.Engine = EngineCommand
	}
	if c.Whisper.Command == "" {
		c.Whisper.Command = "whisper"
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "tiny"
	}
	if c.Whisper.ModelPath == "" {
		c.Whisper.ModelPath = "models/ggml-base.bin"
	}
	if c.Scheduler.MaxParallel == 0 {
		c.Scheduler.MaxParallel = 1
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 30
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 16000
	}
	if c.Audio.MaxFileSize == 0 {
		c.Audio.MaxFileSize = 500
	}
	if c.Downloads.LinkTTL == 0 {
		c.Downloads.LinkTTL = 3600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Auth.Postgres.Query == "" {
		c.Auth.Postgres.Query = "SELECT user_id, is_admin FROM api_tokens WHERE token = $1 AND valid_until > NOW()"
	}
	// The in-process model handles one file at a time; extra slots would
	// only show jobs as processing while they wait on it.
	if c.Whisper.Engine == EngineWhisperCpp && c.Scheduler.MaxParallel > 1 {
		c.Scheduler.MaxParallel = 1
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Whisper.Engine {
	case EngineCommand, EngineWhisperCpp:
	default:
		return fmt.Errorf("unknown whisper engine %q", c.Whisper.Engine)
	}
	if c.Scheduler.MaxParallel < 1 {
		return fmt.Errorf("scheduler.max_parallel must be at least 1, got %d", c.Scheduler.MaxParallel)
	}
	if c.Scheduler.PollInterval < 0 {
		return fmt.Errorf("scheduler.poll_interval_seconds must not be negative")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scheduler.PollInterval) * time.Second
}

func (c *Config) LinkTTL() time.Duration {
	return time.Duration(c.Downloads.LinkTTL) * time.Second
}

// MaxFileSizeBytes returns the import size limit in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return c.Audio.MaxFileSize * 1024 * 1024
}
