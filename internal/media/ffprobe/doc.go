// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// This package has no spool-specific dependencies and could be extracted
// as a standalone library.
//
// Key types:
//   - Result: parsed ffprobe output containing streams and format metadata
//   - Stream: individual audio/video/subtitle stream properties
//   - Format: container-level metadata (duration, size, bitrate)
//
// Primary entry points:
//   - Inspect: executes ffprobe and returns a parsed Result
//   - Parse: decodes a payload captured elsewhere
//
// Helper methods on Result provide convenient access to stream filtering,
// duration parsing, and bitrate extraction.
package ffprobe
