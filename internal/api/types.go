package api

import "time"

// QueueEntry is the JSON view of a file entry.
type QueueEntry struct {
	ID             int64                `json:"id"`
	Path           string               `json:"path"`
	Status         string               `json:"status"`
	ReleaseName    string               `json:"release_name,omitempty"`
	OutputPath     string               `json:"output_path,omitempty"`
	NFOPath        string               `json:"nfo_path,omitempty"`
	ErrorKind      string               `json:"error_kind,omitempty"`
	ErrorMessage   string               `json:"error_message,omitempty"`
	Checkpoints    map[string]time.Time `json:"checkpoints,omitempty"`
	TrackerResults []TrackerResult      `json:"tracker_results,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// TrackerResult is the JSON view of one tracker's upload outcome.
type TrackerResult struct {
	Tracker    string    `json:"tracker"`
	Status     string    `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	RemoteID   string    `json:"remote_id,omitempty"`
	TorrentURL string    `json:"torrent_url,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// DaemonStatus is the payload of GET /api/status.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	Entries      map[string]int `json:"entries,omitempty"`
	Jobs         map[string]int `json:"jobs,omitempty"`
	QueueDBPath  string         `json:"queue_db_path,omitempty"`
	LockFilePath string         `json:"lock_file_path,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
}

// Dependency is the JSON view of one external binary check.
type Dependency struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// StageHealth is the JSON view of one stage readiness probe.
type StageHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// HealthResponse is the payload of GET /api/health.
type HealthResponse struct {
	Healthy bool          `json:"healthy"`
	Stages  []StageHealth `json:"stages,omitempty"`
	Queue   QueueHealth   `json:"queue"`
}

// QueueHealth aggregates entry counts across the lifecycle.
type QueueHealth struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	InFlight  int `json:"in_flight"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// QueueListResponse wraps GET /api/queue.
type QueueListResponse struct {
	Entries []QueueEntry `json:"entries"`
}

// QueueEntryResponse wraps GET /api/queue/{id}.
type QueueEntryResponse struct {
	Entry QueueEntry `json:"entry"`
}
