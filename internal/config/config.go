package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Upload contains configuration for chunked upload ingestion.
type Upload struct {
	MaxFileSizeMiB int `toml:"max_file_size_mib"`
	SessionTimeout int `toml:"session_timeout"`
}

// Queue contains configuration for the durable work queue.
type Queue struct {
	MaxAttempts   int `toml:"max_attempts"`
	LeaseDuration int `toml:"lease_duration"`
	PollInterval  int `toml:"poll_interval"`
}

// Worker contains configuration for the worker execution loop.
type Worker struct {
	Count              int  `toml:"count"`
	ProcessingTimeout  int  `toml:"processing_timeout"`
	HeartbeatInterval  int  `toml:"heartbeat_interval"`
	ErrorRetryInterval int  `toml:"error_retry_interval"`
	EnrichmentEnabled  bool `toml:"enrichment_enabled"`
}

// Engine contains configuration for the transcription engine invocation.
type Engine struct {
	Binary      string `toml:"binary"`
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
}

// Retention contains configuration for terminal job and session cleanup.
type Retention struct {
	JobRetentionDays int `toml:"job_retention_days"`
	SweepInterval    int `toml:"sweep_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for Scribe.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Upload: chunked upload limits and session expiry
//   - Queue: work queue lease and redelivery settings
//   - Worker: transcription worker concurrency and deadlines
//   - Engine: transcription engine model and invocation settings
//   - Retention: terminal job cleanup window
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Upload    Upload    `toml:"upload"`
	Queue     Queue     `toml:"queue"`
	Worker    Worker    `toml:"worker"`
	Engine    Engine    `toml:"engine"`
	Retention Retention `toml:"retention"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/scribe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized. The second return value is the
// resolved config path and the third reports whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the annotated sample configuration to path, creating
// parent directories as needed. It refuses to overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// DatabasePath returns the SQLite database location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "scribe.db")
}

// UploadDir returns the directory holding in-progress upload part files.
func (c *Config) UploadDir() string {
	return filepath.Join(c.Paths.DataDir, "uploads")
}

// SourceDir returns the directory holding finalized source audio files.
func (c *Config) SourceDir() string {
	return filepath.Join(c.Paths.DataDir, "sources")
}

// TranscriptDir returns the directory holding generated transcript artifacts.
func (c *Config) TranscriptDir() string {
	return filepath.Join(c.Paths.DataDir, "transcripts")
}

// MaxFileSizeBytes returns the configured upload ceiling in bytes.
func (c *Config) MaxFileSizeBytes() int64 {
	return int64(c.Upload.MaxFileSizeMiB) * 1024 * 1024
}

// EnsureDirectories creates all runtime directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		c.Paths.LogDir,
		c.UploadDir(),
		c.SourceDir(),
		c.TranscriptDir(),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	return nil
}

func expandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
