package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a file entry.
type Status string

const (
	StatusPending           Status = "pending"
	StatusScanned           Status = "scanned"
	StatusAnalyzed          Status = "analyzed"
	StatusApproved          Status = "approved"
	StatusPrepared          Status = "prepared"
	StatusRenamed           Status = "renamed"
	StatusMetadataGenerated Status = "metadata_generated"
	StatusUploaded          Status = "uploaded"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusScanned,
	StatusAnalyzed,
	StatusApproved,
	StatusPrepared,
	StatusRenamed,
	StatusMetadataGenerated,
	StatusUploaded,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// statusRank orders the forward chain. Terminal failure states carry no rank.
var statusRank = map[Status]int{
	StatusPending:           0,
	StatusScanned:           1,
	StatusAnalyzed:          2,
	StatusApproved:          3,
	StatusPrepared:          4,
	StatusRenamed:           5,
	StatusMetadataGenerated: 6,
	StatusUploaded:          7,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the entry lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusUploaded || s == StatusFailed || s == StatusCancelled
}

// ValidTransition reports whether an entry may move from one status to
// another: one step forward along the chain, or to FAILED/CANCELLED from any
// non-terminal state. Regressions happen only through ResetFromStage.
func ValidTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return !from.IsTerminal()
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return false
	}
	toRank, ok := statusRank[to]
	if !ok {
		return false
	}
	return toRank == fromRank+1
}

// Stage identifies one pipeline step. Each stage owns exactly one checkpoint
// timestamp and one done-status.
type Stage string

const (
	StageScan     Stage = "scan"
	StageAnalyze  Stage = "analyze"
	StageApprove  Stage = "approve"
	StagePrepare  Stage = "prepare"
	StageRename   Stage = "rename"
	StageGenerate Stage = "generate"
	StageUpload   Stage = "upload"
)

var stageOrder = []Stage{
	StageScan,
	StageAnalyze,
	StageApprove,
	StagePrepare,
	StageRename,
	StageGenerate,
	StageUpload,
}

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	cp := make([]Stage, len(stageOrder))
	copy(cp, stageOrder)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	for _, stage := range stageOrder {
		if stage == normalized {
			return stage, true
		}
	}
	return "", false
}

// DoneStatus returns the entry status a completed stage advances to.
func (st Stage) DoneStatus() Status {
	switch st {
	case StageScan:
		return StatusScanned
	case StageAnalyze:
		return StatusAnalyzed
	case StageApprove:
		return StatusApproved
	case StagePrepare:
		return StatusPrepared
	case StageRename:
		return StatusRenamed
	case StageGenerate:
		return StatusMetadataGenerated
	case StageUpload:
		return StatusUploaded
	}
	return ""
}

// PrecedingStatus returns the entry status a stage requires before running.
func (st Stage) PrecedingStatus() Status {
	switch st {
	case StageScan:
		return StatusPending
	case StageAnalyze:
		return StatusScanned
	case StageApprove:
		return StatusAnalyzed
	case StagePrepare:
		return StatusApproved
	case StageRename:
		return StatusPrepared
	case StageGenerate:
		return StatusRenamed
	case StageUpload:
		return StatusMetadataGenerated
	}
	return ""
}

// checkpointColumn maps a stage to its timestamp column.
func (st Stage) checkpointColumn() string {
	switch st {
	case StageScan:
		return "scanned_at"
	case StageAnalyze:
		return "analyzed_at"
	case StageApprove:
		return "approved_at"
	case StagePrepare:
		return "prepared_at"
	case StageRename:
		return "renamed_at"
	case StageGenerate:
		return "metadata_generated_at"
	case StageUpload:
		return "uploaded_at"
	}
	return ""
}

// FileEntry represents one media file moving through the pipeline.
type FileEntry struct {
	ID                 int64
	Path               string
	Status             Status
	ReleaseName        string
	OutputPath         string
	MetadataJSON       string
	NFOPath            string
	TorrentPathsJSON   string
	ScreenshotURLsJSON string
	ErrorMessage       string
	ErrorKind          string

	ScannedAt           *time.Time
	AnalyzedAt          *time.Time
	ApprovedAt          *time.Time
	PreparedAt          *time.Time
	RenamedAt           *time.Time
	MetadataGeneratedAt *time.Time
	UploadedAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckpointAt returns the timestamp recorded for a stage, or nil when the
// stage has not completed.
func (e *FileEntry) CheckpointAt(stage Stage) *time.Time {
	switch stage {
	case StageScan:
		return e.ScannedAt
	case StageAnalyze:
		return e.AnalyzedAt
	case StageApprove:
		return e.ApprovedAt
	case StagePrepare:
		return e.PreparedAt
	case StageRename:
		return e.RenamedAt
	case StageGenerate:
		return e.MetadataGeneratedAt
	case StageUpload:
		return e.UploadedAt
	}
	return nil
}

func (e *FileEntry) setCheckpoint(stage Stage, t time.Time) {
	switch stage {
	case StageScan:
		e.ScannedAt = &t
	case StageAnalyze:
		e.AnalyzedAt = &t
	case StageApprove:
		e.ApprovedAt = &t
	case StagePrepare:
		e.PreparedAt = &t
	case StageRename:
		e.RenamedAt = &t
	case StageGenerate:
		e.MetadataGeneratedAt = &t
	case StageUpload:
		e.UploadedAt = &t
	}
}

// NextStage returns the first stage whose checkpoint is unset. The second
// return is false when every stage has completed.
func (e *FileEntry) NextStage() (Stage, bool) {
	for _, stage := range stageOrder {
		if e.CheckpointAt(stage) == nil {
			return stage, true
		}
	}
	return "", false
}

// TorrentPaths decodes the tracker-slug to .torrent path map.
func (e *FileEntry) TorrentPaths() (map[string]string, error) {
	if strings.TrimSpace(e.TorrentPathsJSON) == "" {
		return map[string]string{}, nil
	}
	paths := make(map[string]string)
	if err := json.Unmarshal([]byte(e.TorrentPathsJSON), &paths); err != nil {
		return nil, fmt.Errorf("decode torrent paths: %w", err)
	}
	return paths, nil
}

// ScreenshotURLs decodes the stored screenshot URL list.
func (e *FileEntry) ScreenshotURLs() ([]string, error) {
	if strings.TrimSpace(e.ScreenshotURLsJSON) == "" {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(e.ScreenshotURLsJSON), &urls); err != nil {
		return nil, fmt.Errorf("decode screenshot urls: %w", err)
	}
	return urls, nil
}

// Artifacts carries the outputs a stage wants persisted together with its
// checkpoint. Zero-valued fields are left untouched; a non-nil map or slice
// replaces the stored JSON.
type Artifacts struct {
	ReleaseName    string
	OutputPath     string
	MetadataJSON   string
	NFOPath        string
	TorrentPaths   map[string]string
	ScreenshotURLs []string
}

// TrackerResultStatus is the per-tracker outcome of the Upload stage.
type TrackerResultStatus string

const (
	TrackerResultSuccess          TrackerResultStatus = "success"
	TrackerResultSkippedDuplicate TrackerResultStatus = "skipped_duplicate"
	TrackerResultFailed           TrackerResultStatus = "failed"
)

// TrackerResult records one tracker's upload outcome for an entry. At most
// one row exists per (entry, tracker); re-running Upload overwrites it.
type TrackerResult struct {
	ID          int64
	FileEntryID int64
	Tracker     string
	Status      TrackerResultStatus
	Detail      string
	RemoteID    string
	TorrentURL  string
	RecordedAt  time.Time
}

// Priority orders jobs within the dispatch queue.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority converts a string into a known Priority.
func ParsePriority(value string) (Priority, bool) {
	switch Priority(strings.ToLower(strings.TrimSpace(value))) {
	case PriorityHigh:
		return PriorityHigh, true
	case PriorityNormal:
		return PriorityNormal, true
	case PriorityLow:
		return PriorityLow, true
	}
	return "", false
}

// JobState represents the dispatch lifecycle of a queued job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// IsTerminal reports whether a job state ends the job lifecycle.
func (s JobState) IsTerminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// Job is one unit of pipeline work bound to a file entry. At most one
// queued-or-running job exists per entry at any time.
type Job struct {
	ID              int64
	FileEntryID     int64
	BatchID         *int64
	Priority        Priority
	State           JobState
	Attempt         int
	MaxAttempts     int
	CancelRequested bool
	ScheduledAt     time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	LastHeartbeat   *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BatchState represents the lifecycle of a batch submission.
type BatchState string

const (
	BatchPending   BatchState = "pending"
	BatchRunning   BatchState = "running"
	BatchCompleted BatchState = "completed"
	BatchCancelled BatchState = "cancelled"
)

// Batch groups jobs submitted together and tracks their aggregate outcome.
type Batch struct {
	ID               int64
	Name             string
	State            BatchState
	ConcurrencyLimit int
	Total            int
	Succeeded        int
	Failed           int
	Cancelled        int
	CreatedAt        time.Time
	FinishedAt       *time.Time
}

// Settled reports whether every job in the batch reached a terminal state.
func (b *Batch) Settled() bool {
	return b.Succeeded+b.Failed+b.Cancelled >= b.Total
}

// HealthSummary describes aggregated entry counts across the lifecycle.
type HealthSummary struct {
	Total     int
	Pending   int
	InFlight  int
	Uploaded  int
	Failed    int
	Cancelled int
}
