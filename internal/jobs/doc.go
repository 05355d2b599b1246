// Package jobs persists transcription jobs, the work queue, and chunked
// upload sessions in a single SQLite database.
//
// The queue is lease based: Claim hands a job to a worker for a bounded
// lease, ExtendLease keeps it alive while work progresses, and Ack removes
// the entry once the job reaches a terminal state. A crashed worker simply
// stops extending its lease and the entry becomes claimable again, so every
// job is delivered at least once.
//
// Status transitions go through compare-and-set updates. Callers name the
// states they expect and receive ErrStaleTransition when another actor got
// there first, which keeps watchdog, workers, and API cancellation from
// trampling each other.
package jobs
