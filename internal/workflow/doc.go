// Package workflow runs the job dispatch loop. A Manager claims queued jobs,
// walks each claimed entry through its remaining pipeline stages, and settles
// the job according to the failure taxonomy: retryable errors requeue with
// backoff, everything else fails the entry with its error kind recorded.
// A per-job heartbeat keeps claims fresh; jobs whose worker died are
// reclaimed after a grace period.
package workflow
