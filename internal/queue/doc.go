// Package queue persists file entries, dispatch jobs, and batches in SQLite
// and exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, heartbeat tracking, stale-job recovery, and the status transitions
// the pipeline depends on. File entries capture stage checkpoints and
// artifacts so an interrupted run resumes at the first incomplete stage;
// checkpoints are written exactly once, atomically with their status advance.
// Jobs hold the dispatch state (priority, attempt budget, scheduling) and at
// most one queued-or-running job exists per entry, enforced by a partial
// unique index.
//
// The database is treated as transient storage for in-flight work rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or columns, update schema.sql and bump schemaVersion.
package queue
