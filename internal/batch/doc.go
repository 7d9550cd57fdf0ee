// Package batch submits groups of media files as one unit. A controller
// registers the batch, feeds its jobs into the shared queue under a
// concurrency bound, and exposes progress and cascading cancellation.
package batch
