package models

import (
	"time"

	"gorm.io/datatypes"
)

// Job-Namen und Status für JobRun.
const (
	JobIngest = "ingest"
	JobEnrich = "enrich"
	JobDigest = "digest"

	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobRun protokolliert einen einzelnen Lauf eines geplanten Jobs.
// Notes sammelt pro-Item-Fehler als JSON-Array (gekappt im Service).
type JobRun struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	JobName string `json:"job_name" gorm:"index;not null"`
	Status  string `json:"status" gorm:"index;not null"`

	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Errored   int `json:"errored"`

	Notes datatypes.JSON `json:"notes,omitempty" gorm:"type:jsonb"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
