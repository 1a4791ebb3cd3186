package models

// ExportTrigger records why an export job was enqueued.
type ExportTrigger string

const (
	ExportTriggerScheduled ExportTrigger = "scheduled"
	ExportTriggerManual    ExportTrigger = "manual"
)

// JobTypeGradeExport identifies grade export jobs on the queue.
const JobTypeGradeExport = "grade_export"

// ExportJobPayload is the unit of work for the export worker.
type ExportJobPayload struct {
	CourseID  int64         `json:"course_id"`
	UserID    int64         `json:"user_id"`
	Username  string        `json:"username"`
	Trigger   ExportTrigger `json:"trigger"`
	RequestID string        `json:"request_id,omitempty"`
}

// SnapshotFormat enumerates grade snapshot renderings.
type SnapshotFormat string

const (
	SnapshotFormatCSV SnapshotFormat = "csv"
	SnapshotFormatPDF SnapshotFormat = "pdf"
)
