// Package services holds the cross-cutting plumbing shared by every external
// integration: the error taxonomy with its sentinel markers, classification
// helpers, the retrying call wrapper, and context metadata accessors for
// entry, job, stage, and correlation identifiers.
//
// Concrete clients live in subpackages (tmdb, flaresolverr, qbittorrent,
// imagehost, prowlarr) and tag their failures with the markers defined here
// so the worker can decide between requeue and permanent failure without
// knowing which service produced the error.
package services
