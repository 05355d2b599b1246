// Package daemon hosts the long-running scribed process: the worker pool,
// the HTTP API for uploads and job inspection, the websocket progress
// stream, and the single-instance lock file.
package daemon
