// Package upload implements chunked audio ingestion. Clients declare a file
// size and chunk size up front, stream chunks in any order (retries included),
// and finalize once everything arrived. Chunks are written straight into a
// preallocated part file at their byte offset, so finalize never has to
// reassemble anything; it just moves the file and enqueues a job.
package upload
