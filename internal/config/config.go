// Package config loads worker and CLI settings from defaults, an optional
// TOML file, the environment (including .env) and command-line flags, in
// that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	flags "github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Flags carry no `default:` tags: defaults come from Default() so that a
// value read from the TOML file is not reset by the second flag pass.

type Config struct {
	ConfigPath  string `short:"c" long:"config" env:"VODSCRIBE_CONFIG" description:"Path to a TOML config file" toml:"-"`
	Environment string `long:"env" env:"ENVIRONMENT" description:"Environment name (local, staging, prod)" toml:"environment"`
	LogLevel    string `long:"log_level" env:"LOG_LEVEL" description:"Log level (debug, info, warn, error)" toml:"log_level"`

	DatabasePath string `long:"db" env:"DATABASE_PATH" description:"SQLite database path" toml:"database_path"`
	HTTPAddr     string `long:"http_addr" env:"HTTP_ADDR" description:"Ops HTTP listen address; empty disables it" toml:"http_addr"`

	Queue         QueueConfig         `group:"Queue" toml:"queue"`
	Storage       StorageConfig       `group:"Storage" toml:"storage"`
	Transcription TranscriptionConfig `group:"Transcription" toml:"transcription"`
	Media         MediaConfig         `group:"Media" toml:"media"`
	Fetch         FetchConfig         `group:"Fetch" toml:"fetch"`
	Retention     RetentionConfig     `group:"Retention" toml:"retention"`
	Worker        WorkerConfig        `group:"Worker" toml:"worker"`
}

type QueueConfig struct {
	Backend           string        `long:"queue_backend" env:"QUEUE_BACKEND" description:"Task queue backend (sqlite, sqs)" toml:"backend"`
	SQSURL            string        `long:"sqs_url" env:"SQS_QUEUE_URL" description:"SQS queue URL" toml:"sqs_url"`
	VisibilityTimeout time.Duration `long:"queue_visibility" env:"QUEUE_VISIBILITY_TIMEOUT" description:"How long a received message stays hidden" toml:"visibility_timeout"`
	WaitTime          time.Duration `long:"queue_wait" env:"QUEUE_WAIT_TIME" description:"Long poll wait (sqs) or idle poll interval (sqlite)" toml:"wait_time"`
}

type StorageConfig struct {
	Backend   string `long:"storage_backend" env:"STORAGE_BACKEND" description:"Object store backend (local, s3)" toml:"backend"`
	Dir       string `long:"storage_dir" env:"STORAGE_DIR" description:"Directory for the local backend" toml:"dir"`
	Bucket    string `long:"s3_bucket" env:"S3_BUCKET" description:"S3 bucket" toml:"bucket"`
	Prefix    string `long:"s3_prefix" env:"S3_PREFIX" description:"Key prefix inside the bucket" toml:"prefix"`
	Endpoint  string `long:"s3_endpoint" env:"S3_ENDPOINT" description:"S3-compatible endpoint URL (MinIO)" toml:"endpoint"`
	PathStyle bool   `long:"s3_path_style" env:"S3_PATH_STYLE" description:"Use path-style bucket addressing" toml:"path_style"`
	Region    string `long:"aws_region" env:"AWS_REGION" description:"AWS region" toml:"region"`
	AccessKey string `long:"aws_access_key" env:"AWS_ACCESS_KEY_ID" description:"AWS access key id" toml:"access_key"`
	SecretKey string `long:"aws_secret_key" env:"AWS_SECRET_ACCESS_KEY" description:"AWS secret key" toml:"secret_key"`
}

type TranscriptionConfig struct {
	BaseURL    string        `long:"transcription_url" env:"TRANSCRIPTION_BASE_URL" description:"Speech-to-text API base URL" toml:"base_url"`
	APIKey     string        `long:"api_key" env:"OPENAI_API_KEY" description:"Speech-to-text API key" toml:"api_key"`
	Model      string        `long:"model" env:"OPENAI_TRANSCRIBE_MODEL" description:"Transcription model" toml:"model"`
	Timeout    time.Duration `long:"transcription_timeout" env:"TRANSCRIPTION_TIMEOUT" description:"Upper bound on one transcription call including retries" toml:"timeout"`
	MaxRetries uint64        `long:"transcription_retries" env:"TRANSCRIPTION_RETRIES" description:"Retries for transient API errors" toml:"max_retries"`
}

type MediaConfig struct {
	FFmpegPath         string        `long:"ffmpeg" env:"FFMPEG_PATH" description:"ffmpeg binary" toml:"ffmpeg_path"`
	FFprobePath        string        `long:"ffprobe" env:"FFPROBE_PATH" description:"ffprobe binary" toml:"ffprobe_path"`
	ProbeTimeout       time.Duration `long:"probe_timeout" env:"PROBE_TIMEOUT" description:"ffprobe timeout" toml:"probe_timeout"`
	TranscodeTimeout   time.Duration `long:"transcode_timeout" env:"TRANSCODE_TIMEOUT" description:"ffmpeg timeout" toml:"transcode_timeout"`
	MaxDurationSeconds int           `long:"max_duration" env:"MAX_DURATION_SECONDS" description:"Longest accepted media, in seconds" toml:"max_duration_seconds"`
}

type FetchConfig struct {
	DownloadTimeout time.Duration `long:"download_timeout" env:"DOWNLOAD_TIMEOUT" description:"URL download timeout" toml:"download_timeout"`
	MaxBytes        int64         `long:"max_bytes" env:"MAX_DOWNLOAD_BYTES" description:"Largest accepted upload or download" toml:"max_bytes"`
	YouTube         bool          `long:"youtube" env:"YOUTUBE_ENABLED" description:"Resolve YouTube page URLs to audio streams" toml:"youtube"`
}

type RetentionConfig struct {
	Days int `long:"retention_days" env:"RETENTION_DAYS" description:"Delete jobs older than this many days" toml:"days"`
	Hour int `long:"retention_hour" env:"RETENTION_HOUR" description:"UTC hour of the daily sweep" toml:"hour"`
}

type WorkerConfig struct {
	Concurrency int    `long:"concurrency" env:"WORKER_CONCURRENCY" description:"Jobs processed in parallel" toml:"concurrency"`
	TempDir     string `long:"tmp_dir" env:"WORKER_TMP_DIR" description:"Scratch directory for job files" toml:"tmp_dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		DatabasePath: "data/vodscribe.db",
		HTTPAddr:     ":7200",
		Queue: QueueConfig{
			Backend:           "sqlite",
			VisibilityTimeout: 45 * time.Minute,
			WaitTime:          2 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "local",
			Dir:     "data/blobs",
			Bucket:  "vod-transcription",
			Region:  "us-east-1",
		},
		Transcription: TranscriptionConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "whisper-1",
			Timeout:    10 * time.Minute,
			MaxRetries: 3,
		},
		Media: MediaConfig{
			FFmpegPath:         "ffmpeg",
			FFprobePath:        "ffprobe",
			ProbeTimeout:       60 * time.Second,
			TranscodeTimeout:   10 * time.Minute,
			MaxDurationSeconds: 1800,
		},
		Fetch: FetchConfig{
			DownloadTimeout: 10 * time.Minute,
			MaxBytes:        2 << 30,
		},
		Retention: RetentionConfig{
			Days: 30,
			Hour: 3,
		},
		Worker: WorkerConfig{
			Concurrency: 2,
		},
	}
}

// Load builds the configuration from args (normally os.Args[1:]) and
// returns the remaining positional arguments. A help request returns an
// error for which flags.WroteHelp reports true.
func Load(args []string) (*Config, []string, error) {
	_ = godotenv.Load()
	return load(Default(), args)
}

func load(cfg *Config, args []string) (*Config, []string, error) {
	// First pass only finds the config file path.
	pre := flags.NewParser(cfg, flags.IgnoreUnknown|flags.PassDoubleDash)
	if _, err := pre.ParseArgs(args); err != nil {
		var fe *flags.Error
		if !errors.As(err, &fe) || fe.Type != flags.ErrHelp {
			return nil, nil, fmt.Errorf("config: failed to parse flags: %w", err)
		}
	}

	if cfg.ConfigPath != "" {
		if _, err := toml.DecodeFile(cfg.ConfigPath, cfg); err != nil {
			return nil, nil, fmt.Errorf("config: failed to parse config file %s: %w", cfg.ConfigPath, err)
		}
	}

	// Make sure environment and command line override the file.
	parser := flags.NewParser(cfg, flags.Default)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, nil, err
	}
	return cfg, rest, nil
}

// Validate reports the first invalid setting for running the worker.
func (c *Config) Validate() error {
	if err := c.ValidateStores(); err != nil {
		return err
	}
	if c.Transcription.APIKey == "" {
		return errors.New("config: api_key is required")
	}
	if c.Transcription.BaseURL == "" || c.Transcription.Model == "" {
		return errors.New("config: transcription url and model are required")
	}
	for name, d := range map[string]time.Duration{
		"transcription_timeout": c.Transcription.Timeout,
		"probe_timeout":         c.Media.ProbeTimeout,
		"transcode_timeout":     c.Media.TranscodeTimeout,
		"download_timeout":      c.Fetch.DownloadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive", name)
		}
	}
	if c.Fetch.MaxBytes <= 0 || c.Media.MaxDurationSeconds <= 0 {
		return errors.New("config: size and duration limits must be positive")
	}
	if c.Retention.Hour < 0 || c.Retention.Hour > 23 {
		return errors.New("config: retention_hour must be between 0 and 23")
	}
	if c.Worker.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	return nil
}

// ValidateStores checks only what the submit and sweep commands need: the
// database, queue, object store and retention window.
func (c *Config) ValidateStores() error {
	switch c.Queue.Backend {
	case "sqlite":
	case "sqs":
		if c.Queue.SQSURL == "" {
			return errors.New("config: sqs_url is required for the sqs queue backend")
		}
	default:
		return fmt.Errorf("config: unknown queue backend %q", c.Queue.Backend)
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return errors.New("config: storage_dir is required for the local storage backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("config: s3_bucket is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	if c.DatabasePath == "" {
		return errors.New("config: database path is required")
	}
	if c.Queue.VisibilityTimeout <= 0 {
		return errors.New("config: queue_visibility must be positive")
	}
	if c.Retention.Days <= 0 {
		return errors.New("config: retention_days must be positive")
	}
	return nil
}

// TempDir returns the scratch directory for job files.
func (c *Config) TempDir() string {
	if c.Worker.TempDir != "" {
		return c.Worker.TempDir
	}
	return os.TempDir()
}
