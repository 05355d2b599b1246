// Package engine invokes the external speech-to-text engine and normalizes
// its output. The default implementation shells out to WhisperX via uvx,
// parses percentage markers from its diagnostic stream for live progress,
// and reads the JSON/SRT files it leaves behind.
package engine
