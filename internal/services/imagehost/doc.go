// Package imagehost uploads screenshots to a chevereto-style image host.
//
// The multipart body is rendered once and replayed across retries, and the
// response envelope is probed at the well-known locations (image.url,
// data.url, url) so different hosts work without per-host adapters.
package imagehost
