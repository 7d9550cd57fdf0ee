package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const entryColumns = `id, path, status, release_name, output_path, metadata_json, nfo_path,
    torrent_paths_json, screenshot_urls_json, error_message, error_kind,
    scanned_at, analyzed_at, approved_at, prepared_at, renamed_at, metadata_generated_at, uploaded_at,
    created_at, updated_at`

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*FileEntry, error) {
	var (
		entry              FileEntry
		releaseName        sql.NullString
		outputPath         sql.NullString
		metadataJSON       sql.NullString
		nfoPath            sql.NullString
		torrentPathsJSON   sql.NullString
		screenshotURLsJSON sql.NullString
		errorMessage       sql.NullString
		errorKind          sql.NullString
		scannedAt          sql.NullString
		analyzedAt         sql.NullString
		approvedAt         sql.NullString
		preparedAt         sql.NullString
		renamedAt          sql.NullString
		generatedAt        sql.NullString
		uploadedAt         sql.NullString
		createdAt          string
		updatedAt          string
	)

	if err := scanner.Scan(
		&entry.ID,
		&entry.Path,
		&entry.Status,
		&releaseName,
		&outputPath,
		&metadataJSON,
		&nfoPath,
		&torrentPathsJSON,
		&screenshotURLsJSON,
		&errorMessage,
		&errorKind,
		&scannedAt,
		&analyzedAt,
		&approvedAt,
		&preparedAt,
		&renamedAt,
		&generatedAt,
		&uploadedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	entry.ReleaseName = releaseName.String
	entry.OutputPath = outputPath.String
	entry.MetadataJSON = metadataJSON.String
	entry.NFOPath = nfoPath.String
	entry.TorrentPathsJSON = torrentPathsJSON.String
	entry.ScreenshotURLsJSON = screenshotURLsJSON.String
	entry.ErrorMessage = errorMessage.String
	entry.ErrorKind = errorKind.String
	entry.ScannedAt = parseTimeString(scannedAt.String)
	entry.AnalyzedAt = parseTimeString(analyzedAt.String)
	entry.ApprovedAt = parseTimeString(approvedAt.String)
	entry.PreparedAt = parseTimeString(preparedAt.String)
	entry.RenamedAt = parseTimeString(renamedAt.String)
	entry.MetadataGeneratedAt = parseTimeString(generatedAt.String)
	entry.UploadedAt = parseTimeString(uploadedAt.String)
	if ts := parseTimeString(createdAt); ts != nil {
		entry.CreatedAt = *ts
	}
	if ts := parseTimeString(updatedAt); ts != nil {
		entry.UpdatedAt = *ts
	}
	return &entry, nil
}

// AddFile registers a media file with the pipeline. Adding a path that is
// already tracked returns the existing entry unchanged.
func (s *Store) AddFile(ctx context.Context, path string) (*FileEntry, error) {
	now := formatTime(time.Now())
	if _, err := s.execWithRetry(
		ctx,
		`INSERT INTO file_entries (path, status, created_at, updated_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(path) DO NOTHING`,
		path,
		StatusPending,
		now,
		now,
	); err != nil {
		return nil, fmt.Errorf("insert file entry: %w", err)
	}
	return s.GetByPath(ctx, path)
}

// GetByID fetches a file entry by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*FileEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM file_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return entry, nil
}

// GetByPath fetches a file entry by its source path.
func (s *Store) GetByPath(ctx context.Context, path string) (*FileEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM file_entries WHERE path = ?`, path)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry by path: %w", err)
	}
	return entry, nil
}

// List returns file entries filtered by status set (or all entries when no
// status is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*FileEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + entryColumns + ` FROM file_entries`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var entries []*FileEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// UpdateWithCheckpoint completes a stage for an entry: it advances the status
// one step, records the stage checkpoint, and persists the stage artifacts in
// a single transaction. The checkpoint is written exactly once; a second
// completion of the same stage fails with ErrCheckpointSet. On success the
// passed entry is updated in place.
func (s *Store) UpdateWithCheckpoint(ctx context.Context, entry *FileEntry, stage Stage, artifacts *Artifacts) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	column := stage.checkpointColumn()
	if column == "" {
		return fmt.Errorf("unknown stage %q", stage)
	}

	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	if err := retryOnBusy(ctx, func() error {
		return s.completeStageTx(ctx, entry.ID, stage, column, artifacts, now)
	}); err != nil {
		return err
	}

	entry.Status = stage.DoneStatus()
	entry.setCheckpoint(stage, now)
	entry.UpdatedAt = now
	entry.ErrorMessage = ""
	entry.ErrorKind = ""
	if artifacts != nil {
		applyArtifacts(entry, artifacts)
	}
	return nil
}

func (s *Store) completeStageTx(ctx context.Context, id int64, stage Stage, column string, artifacts *Artifacts, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status     string
		checkpoint sql.NullString
	)
	err = tx.QueryRowContext(ctx, `SELECT status, `+column+` FROM file_entries WHERE id = ?`, id).Scan(&status, &checkpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read entry state: %w", err)
	}
	if checkpoint.Valid {
		return fmt.Errorf("%w: %s for entry %d", ErrCheckpointSet, stage, id)
	}
	if Status(status) != stage.PrecedingStatus() {
		return fmt.Errorf("%w: %s requires %s, entry %d is %s",
			ErrInvalidTransition, stage, stage.PrecedingStatus(), id, status)
	}

	timestamp := formatTime(now)
	set := []string{"status = ?", column + " = ?", "updated_at = ?", "error_message = NULL", "error_kind = NULL"}
	args := []any{stage.DoneStatus(), timestamp, timestamp}

	if artifacts != nil {
		if artifacts.ReleaseName != "" {
			set = append(set, "release_name = ?")
			args = append(args, artifacts.ReleaseName)
		}
		if artifacts.OutputPath != "" {
			set = append(set, "output_path = ?")
			args = append(args, artifacts.OutputPath)
		}
		if artifacts.MetadataJSON != "" {
			set = append(set, "metadata_json = ?")
			args = append(args, artifacts.MetadataJSON)
		}
		if artifacts.NFOPath != "" {
			set = append(set, "nfo_path = ?")
			args = append(args, artifacts.NFOPath)
		}
		if artifacts.TorrentPaths != nil {
			encoded, err := json.Marshal(artifacts.TorrentPaths)
			if err != nil {
				return fmt.Errorf("marshal torrent paths: %w", err)
			}
			set = append(set, "torrent_paths_json = ?")
			args = append(args, string(encoded))
		}
		if artifacts.ScreenshotURLs != nil {
			encoded, err := json.Marshal(artifacts.ScreenshotURLs)
			if err != nil {
				return fmt.Errorf("marshal screenshot urls: %w", err)
			}
			set = append(set, "screenshot_urls_json = ?")
			args = append(args, string(encoded))
		}
	}

	args = append(args, id)
	query := `UPDATE file_entries SET `
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += ` WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("complete stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func applyArtifacts(entry *FileEntry, artifacts *Artifacts) {
	if artifacts.ReleaseName != "" {
		entry.ReleaseName = artifacts.ReleaseName
	}
	if artifacts.OutputPath != "" {
		entry.OutputPath = artifacts.OutputPath
	}
	if artifacts.MetadataJSON != "" {
		entry.MetadataJSON = artifacts.MetadataJSON
	}
	if artifacts.NFOPath != "" {
		entry.NFOPath = artifacts.NFOPath
	}
	if artifacts.TorrentPaths != nil {
		if encoded, err := json.Marshal(artifacts.TorrentPaths); err == nil {
			entry.TorrentPathsJSON = string(encoded)
		}
	}
	if artifacts.ScreenshotURLs != nil {
		if encoded, err := json.Marshal(artifacts.ScreenshotURLs); err == nil {
			entry.ScreenshotURLsJSON = string(encoded)
		}
	}
}

// MarkFailed moves an entry to FAILED with the error kind and message that
// caused it. Terminal entries are left untouched.
func (s *Store) MarkFailed(ctx context.Context, id int64, kind, message string) error {
	return s.markTerminal(ctx, id, StatusFailed, kind, message)
}

// MarkCancelled moves an entry to CANCELLED. Terminal entries are left
// untouched.
func (s *Store) MarkCancelled(ctx context.Context, id int64, message string) error {
	return s.markTerminal(ctx, id, StatusCancelled, "", message)
}

func (s *Store) markTerminal(ctx context.Context, id int64, target Status, kind, message string) error {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE file_entries
         SET status = ?, error_kind = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status NOT IN (?, ?, ?)`,
		target,
		nullableString(kind),
		nullableString(message),
		formatTime(time.Now()),
		id,
		StatusUploaded,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return fmt.Errorf("mark %s: %w", target, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, getErr := s.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("%w: entry %d", ErrNotFound, id)
		}
		return fmt.Errorf("%w: entry %d is already %s", ErrInvalidTransition, id, existing.Status)
	}
	return nil
}

// ResetFromStage clears the checkpoints from the given stage onward and
// rewinds the entry status so the stage runs again. Error fields are cleared;
// artifacts already on disk are left alone and will be overwritten by the
// re-run.
func (s *Store) ResetFromStage(ctx context.Context, id int64, stage Stage) (*FileEntry, error) {
	target := stage.PrecedingStatus()
	if target == "" {
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	set := []string{"status = ?", "updated_at = ?", "error_message = NULL", "error_kind = NULL"}
	args := []any{target, formatTime(time.Now())}
	clearing := false
	for _, st := range Stages() {
		if st == stage {
			clearing = true
		}
		if clearing {
			set = append(set, st.checkpointColumn()+" = NULL")
		}
	}

	query := `UPDATE file_entries SET `
	for i, clause := range set {
		if i > 0 {
			query += ", "
		}
		query += clause
	}
	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reset from stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: entry %d", ErrNotFound, id)
	}
	return s.GetByID(ctx, id)
}

// RecordTrackerResult upserts the upload outcome for one tracker. Re-running
// the upload stage overwrites the previous row for the same tracker.
func (s *Store) RecordTrackerResult(ctx context.Context, result *TrackerResult) error {
	if result == nil {
		return errors.New("result is nil")
	}
	result.RecordedAt = time.Now().UTC()
	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO tracker_results (file_entry_id, tracker, status, detail, remote_id, torrent_url, recorded_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(file_entry_id, tracker) DO UPDATE SET
             status = excluded.status,
             detail = excluded.detail,
             remote_id = excluded.remote_id,
             torrent_url = excluded.torrent_url,
             recorded_at = excluded.recorded_at`,
		result.FileEntryID,
		result.Tracker,
		result.Status,
		nullableString(result.Detail),
		nullableString(result.RemoteID),
		nullableString(result.TorrentURL),
		formatTime(result.RecordedAt),
	); err != nil {
		return fmt.Errorf("record tracker result: %w", err)
	}
	return nil
}

// TrackerResults returns the per-tracker upload outcomes for an entry.
func (s *Store) TrackerResults(ctx context.Context, entryID int64) ([]*TrackerResult, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, file_entry_id, tracker, status, detail, remote_id, torrent_url, recorded_at
         FROM tracker_results WHERE file_entry_id = ? ORDER BY tracker`,
		entryID,
	)
	if err != nil {
		return nil, fmt.Errorf("query tracker results: %w", err)
	}
	defer rows.Close()

	var results []*TrackerResult
	for rows.Next() {
		var (
			result     TrackerResult
			detail     sql.NullString
			remoteID   sql.NullString
			torrentURL sql.NullString
			recordedAt string
		)
		if err := rows.Scan(
			&result.ID,
			&result.FileEntryID,
			&result.Tracker,
			&result.Status,
			&detail,
			&remoteID,
			&torrentURL,
			&recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tracker result: %w", err)
		}
		result.Detail = detail.String
		result.RemoteID = remoteID.String
		result.TorrentURL = torrentURL.String
		if ts := parseTimeString(recordedAt); ts != nil {
			result.RecordedAt = *ts
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// Stats returns entry counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM file_entries GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health summarizes entry counts across the lifecycle.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	summary := HealthSummary{
		Pending:   stats[StatusPending],
		Uploaded:  stats[StatusUploaded],
		Failed:    stats[StatusFailed],
		Cancelled: stats[StatusCancelled],
	}
	for status, count := range stats {
		summary.Total += count
		if rank, ok := statusRank[status]; ok && rank > 0 && status != StatusUploaded {
			summary.InFlight += count
		}
	}
	return summary, nil
}

// Remove deletes an entry and its jobs and tracker results.
func (s *Store) Remove(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_entries WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearUploaded removes entries that finished the pipeline.
func (s *Store) ClearUploaded(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_entries WHERE status = ?`, StatusUploaded)
	if err != nil {
		return 0, fmt.Errorf("clear uploaded: %w", err)
	}
	return res.RowsAffected()
}

// ClearFailed removes failed entries.
func (s *Store) ClearFailed(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_entries WHERE status = ?`, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("clear failed: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all entries and batches.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM file_entries`)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM batch_jobs`); err != nil {
		return 0, fmt.Errorf("clear batches: %w", err)
	}
	return res.RowsAffected()
}
