// Package broadcast fans out per-job progress events to live subscribers,
// typically websocket connections. Publishing never blocks on a slow
// consumer; per-job sequence numbers let clients detect dropped events.
package broadcast
