// Package qbittorrent injects finished uploads into a qBittorrent session
// for seeding.
//
// It wraps github.com/autobrr/go-qbittorrent behind a small Engine interface
// and adds the pipeline conventions: save paths rewritten from the daemon's
// view onto the mount qBittorrent sees, the configured category, tracker
// slugs uppercased into tags, and the "already in session" degradation that
// tags the existing torrent instead of failing the upload.
package qbittorrent
