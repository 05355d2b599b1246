// Package logging wraps log/slog with typed attribute helpers, standardized
// field names, and context-derived fields shared across the daemon.
package logging
