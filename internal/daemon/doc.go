// Package daemon coordinates the long-running spool process.
//
// It wires configuration, the queue store, the workflow manager, and the
// status API into a single lifecycle with flock-based locking to prevent
// multiple instances. Orchestration logic lives here; individual pipeline
// stages live in their own packages.
package daemon
