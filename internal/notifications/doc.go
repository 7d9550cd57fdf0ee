// Package notifications delivers workflow events to the configured
// webhook. Event categories are toggled individually in config, and with
// no webhook URL the service degrades to a noop so callers never nil-check.
package notifications
