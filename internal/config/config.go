package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Sources lists the locations scanned for new media. Entries are local
	// directories or blob container URIs (blob://container/prefix).
	Sources []string `yaml:"sources"`

	// KnownPeopleDir contains one subdirectory per person with their
	// reference images.
	KnownPeopleDir string `yaml:"known_people_dir"`

	Recognition RecognitionConfig `yaml:"recognition"`
	Store       StoreConfig       `yaml:"store"`
	Photos      PhotosConfig      `yaml:"photos"`
	Blob        BlobConfig        `yaml:"blob"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Refresh     RefreshConfig     `yaml:"refresh"`
	Video       VideoConfig       `yaml:"video"`
	Scan        ScanConfig        `yaml:"scan"`
}

type RecognitionConfig struct {
	// Backend selects the recognition provider: faceembed, openai or gemini.
	Backend string `yaml:"backend"`
	// Threshold is the similarity score at or above which a face counts as a
	// match (0.0-1.0).
	Threshold float64 `yaml:"threshold"`
	// EmbeddingURL is the base URL of the face embedding server
	// (faceembed backend only).
	EmbeddingURL string `yaml:"-"`
	OpenAIToken  string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`
}

type StoreConfig struct {
	// Backend is either "sqlite" (embedded) or "postgres" (shared).
	Backend string `yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
	// URL is the PostgreSQL connection URL for the postgres backend.
	URL          string `yaml:"-"`
	MaxOpenConns int    `yaml:"-"`
	MaxIdleConns int    `yaml:"-"`
}

type PhotosConfig struct {
	URL      string `yaml:"-"`
	Username string `yaml:"-"`
	Password string `yaml:"-"`
	// Album is the optional album new uploads are added to.
	Album string `yaml:"album"`
}

type BlobConfig struct {
	// ConnectionString authenticates blob:// sources.
	ConnectionString string `yaml:"-"`
}

type AlertingConfig struct {
	Enabled bool `yaml:"enabled"`
	// NtfyTopic is the full topic URL notifications are pushed to.
	NtfyTopic string `yaml:"-"`
	// BatchIntervalMinutes is the minimum spacing between alert batches.
	BatchIntervalMinutes int `yaml:"batch_interval_minutes"`
	// BorderlineOffset widens the review window: scores in
	// [threshold-offset, threshold) are flagged as borderline.
	BorderlineOffset float64 `yaml:"borderline_offset"`
	// EventRetentionDays controls cleanup of already-alerted events.
	EventRetentionDays int `yaml:"event_retention_days"`
}

type RefreshConfig struct {
	Enabled bool `yaml:"enabled"`
	// IntervalDays is the minimum spacing between refresh runs.
	IntervalDays int `yaml:"interval_days"`
	// TargetScore selects candidates: the historical match whose score is
	// closest to this value becomes the new reference sample.
	TargetScore float64 `yaml:"target_score"`
	// CropPaddingPercent pads the detected face box before cropping
	// (0.3 = 30%).
	CropPaddingPercent float64 `yaml:"crop_padding_percent"`
}

type VideoConfig struct {
	// SampleFPS is the frame sampling rate for clips of at least
	// ShortClipSeconds duration.
	SampleFPS float64 `yaml:"sample_fps"`
	// ShortClipFPS is the denser rate used for clips shorter than
	// ShortClipSeconds.
	ShortClipFPS     float64 `yaml:"short_clip_fps"`
	ShortClipSeconds float64 `yaml:"short_clip_seconds"`
	FFmpegPath       string  `yaml:"-"`
	FFprobePath      string  `yaml:"-"`
}

type ScanConfig struct {
	// DeleteSourceAfterUpload removes the source item after a successful
	// upload. Only applies to local directory sources.
	DeleteSourceAfterUpload bool `yaml:"delete_source_after_upload"`
	// DeleteUnmatched removes items that did not match anyone. Destructive;
	// meant for pure staging directories.
	DeleteUnmatched bool `yaml:"delete_unmatched"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// Load builds the configuration from the settings file (if present) and the
// environment. Environment variables carry endpoints and credentials; the
// settings file carries thresholds and source lists.
func Load() (*Config, error) {
	cfg := defaults()

	settingsPath := os.Getenv("SETTINGS_FILE")
	if settingsPath == "" {
		settingsPath = "settings.yaml"
	}
	if data, err := os.ReadFile(settingsPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("could not parse %s: %w", settingsPath, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("could not read %s: %w", settingsPath, err)
	}

	cfg.Recognition.EmbeddingURL = os.Getenv("EMBEDDING_URL")
	cfg.Recognition.OpenAIToken = os.Getenv("OPENAI_TOKEN")
	cfg.Recognition.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if v := os.Getenv("RECOGNITION_BACKEND"); v != "" {
		cfg.Recognition.Backend = v
	}

	if v := os.Getenv("STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	cfg.Store.URL = os.Getenv("DATABASE_URL")
	cfg.Store.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", 25)
	cfg.Store.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", 5)
	if v := os.Getenv("STATE_DB_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}

	cfg.Photos.URL = os.Getenv("PHOTOS_URL")
	cfg.Photos.Username = os.Getenv("PHOTOS_USERNAME")
	cfg.Photos.Password = os.Getenv("PHOTOS_PASSWORD")

	cfg.Blob.ConnectionString = os.Getenv("BLOB_CONNECTION_STRING")
	cfg.Alerting.NtfyTopic = os.Getenv("NTFY_TOPIC")
	cfg.Video.FFmpegPath = os.Getenv("FFMPEG_PATH")
	cfg.Video.FFprobePath = os.Getenv("FFPROBE_PATH")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		KnownPeopleDir: "./known_people",
		Recognition: RecognitionConfig{
			Backend:   "faceembed",
			Threshold: 0.5,
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "./state.db",
		},
		Alerting: AlertingConfig{
			BatchIntervalMinutes: 60,
			BorderlineOffset:     0.1,
			EventRetentionDays:   90,
		},
		Refresh: RefreshConfig{
			IntervalDays:       60,
			TargetScore:        0.65,
			CropPaddingPercent: 0.3,
		},
		Video: VideoConfig{
			SampleFPS:        1.0,
			ShortClipFPS:     2.0,
			ShortClipSeconds: 10.0,
		},
	}
}

// Validate checks cross-field constraints. A failure here is fatal to the
// whole run; per-item problems are handled later as events.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("store: sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Store.URL == "" {
			return errors.New("store: DATABASE_URL is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}

	switch c.Recognition.Backend {
	case "faceembed":
		// EmbeddingURL falls back to the client default when empty.
	case "openai":
		if c.Recognition.OpenAIToken == "" {
			return errors.New("recognition: OPENAI_TOKEN is required for the openai backend")
		}
	case "gemini":
		if c.Recognition.GeminiAPIKey == "" {
			return errors.New("recognition: GEMINI_API_KEY is required for the gemini backend")
		}
	default:
		return fmt.Errorf("recognition: unknown backend %q", c.Recognition.Backend)
	}

	if c.Recognition.Threshold < 0 || c.Recognition.Threshold > 1 {
		return fmt.Errorf("recognition: threshold %.2f out of range [0,1]", c.Recognition.Threshold)
	}
	if c.Alerting.BorderlineOffset < 0 || c.Alerting.BorderlineOffset > 0.5 {
		return fmt.Errorf("alerting: borderline_offset %.2f out of range [0,0.5]", c.Alerting.BorderlineOffset)
	}
	if c.Alerting.Enabled && c.Alerting.NtfyTopic == "" {
		return errors.New("alerting: NTFY_TOPIC is required when alerting is enabled")
	}
	if c.Alerting.BatchIntervalMinutes < 1 {
		return errors.New("alerting: batch_interval_minutes must be at least 1")
	}
	if c.Alerting.EventRetentionDays < 7 {
		return errors.New("alerting: event_retention_days must be at least 7")
	}
	if c.Refresh.IntervalDays < 7 {
		return errors.New("refresh: interval_days must be at least 7")
	}
	if c.Refresh.TargetScore < 0 || c.Refresh.TargetScore > 1 {
		return fmt.Errorf("refresh: target_score %.2f out of range [0,1]", c.Refresh.TargetScore)
	}
	if c.Refresh.CropPaddingPercent < 0 || c.Refresh.CropPaddingPercent > 1 {
		return fmt.Errorf("refresh: crop_padding_percent %.2f out of range [0,1]", c.Refresh.CropPaddingPercent)
	}
	if c.Video.SampleFPS <= 0 || c.Video.ShortClipFPS <= 0 {
		return errors.New("video: sampling rates must be positive")
	}
	return nil
}
