// Package preflight provides readiness checks for the filesystem paths and
// external services spool depends on.
//
// These checks run in two contexts:
//   - The daemon calls RunAll before starting the workflow. Failures are
//     reported up front instead of surfacing as stage errors hours later.
//   - The CLI "spool status" command uses the individual check functions to
//     display service health.
//
// Each check is gated by its config toggle; disabled features are skipped.
package preflight
