// Package api defines the wire types served by the daemon's status API and a
// client for consuming them. The CLI uses the client when a daemon is
// running and falls back to direct store access otherwise.
package api
