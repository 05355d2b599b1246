// Package worker drives claimed jobs to a terminal state. A pool of
// goroutines claims queue entries under a lease, invokes the transcription
// engine with a processing deadline, streams progress to the broadcast hub,
// and maps failures onto terminal statuses. The pool also owns the
// maintenance loops: the processing watchdog, the retention sweep, and
// upload session expiry.
package worker
