package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateUpload(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateRetention(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateUpload() error {
	if c.Upload.MaxFileSizeMiB <= 0 {
		return errors.New("upload.max_file_size_mib must be positive")
	}
	if c.Upload.SessionTimeout <= 0 {
		return errors.New("upload.session_timeout must be positive")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxAttempts <= 0 {
		return errors.New("queue.max_attempts must be positive")
	}
	if c.Queue.LeaseDuration <= 0 {
		return errors.New("queue.lease_duration must be positive")
	}
	if c.Queue.PollInterval <= 0 {
		return errors.New("queue.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Count <= 0 {
		return errors.New("worker.count must be positive")
	}
	if c.Worker.ProcessingTimeout <= 0 {
		return errors.New("worker.processing_timeout must be positive")
	}
	if c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker.heartbeat_interval must be positive")
	}
	if c.Worker.HeartbeatInterval >= c.Queue.LeaseDuration {
		return fmt.Errorf("worker.heartbeat_interval (%d) must be shorter than queue.lease_duration (%d)",
			c.Worker.HeartbeatInterval, c.Queue.LeaseDuration)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary must be set")
	}
	if strings.TrimSpace(c.Engine.Model) == "" {
		return errors.New("engine.model must be set")
	}
	return nil
}

func (c *Config) validateRetention() error {
	if c.Retention.JobRetentionDays <= 0 {
		return errors.New("retention.job_retention_days must be positive")
	}
	if c.Retention.SweepInterval <= 0 {
		return errors.New("retention.sweep_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
