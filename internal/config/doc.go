// Package config loads, validates, and normalizes the TOML configuration
// shared by the scribed daemon and the scribe CLI.
package config
