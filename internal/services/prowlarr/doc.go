// Package prowlarr cross-checks tracker schemas against a Prowlarr
// instance: the tracker test command matches a schema's indexer hints to
// the Prowlarr catalogue and verifies the indexer is enabled before any
// upload relies on it.
package prowlarr
