package stage

import (
	"spool/internal/metadata"
	"spool/internal/queue"
	"spool/internal/services"
)

// ParseMetadata decodes the entry's persisted metadata blob. On failure it
// returns a services.ErrValidation suitable for stage Execute methods, since
// a missing blob means an earlier stage must be re-run.
func ParseMetadata(entry *queue.FileEntry) (*metadata.Release, error) {
	release, err := metadata.ParseRelease([]byte(entry.MetadataJSON))
	if err != nil {
		return nil, services.Wrap(
			services.ErrValidation, "stage", "parse metadata",
			"entry metadata missing or invalid; rerun the analyze stage", err)
	}
	return release, nil
}
