// Command spool is the operator CLI. It reads queue state through the
// daemon status API when spoold is running and falls back to opening the
// store directly; mutating commands always work on the store.
package main
