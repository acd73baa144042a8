package jobs

import (
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Well-known job types. Callers may enqueue other types through POST /jobs.
const (
	TypeCategoryMigration = "category_migration"
	TypeCSVImport         = "csv_import"
	TypeOpenFinanceImport = "openfinance_import"
	TypeChatOperation     = "n8n_operation"
)

// Queue channels.
const (
	ChannelDefault   = "job"
	ChannelCSVImport = "csv-import"
)

type Job struct {
	ID      string `gorm:"primaryKey;type:varchar(64)"`
	OwnerID uint64 `gorm:"index;not null"`

	Type    string         `gorm:"type:text;not null;index"`
	Channel string         `gorm:"type:text;not null;default:'job'"`
	Payload datatypes.JSON `gorm:"not null"`

	Status Status `gorm:"type:text;index;not null;default:'queued'"`

	ProgressProcessed int64 `gorm:"not null;default:0"`
	ProgressTotal     int64 `gorm:"not null;default:0"`

	Result datatypes.JSON
	Error  *string `gorm:"type:text"`

	Attempts int        `gorm:"not null;default:0"`
	LockedBy *string    `gorm:"type:text"`
	LockedAt *time.Time `gorm:"index"`

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;index"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (Job) TableName() string { return "jobs" }

type Progress struct {
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

func (j *Job) Progress() Progress {
	return Progress{Processed: j.ProgressProcessed, Total: j.ProgressTotal}
}

// Outcome is the terminal payload written together with a terminal status.
type Outcome struct {
	Result any
	Error  string
}

// ChannelFor picks the queue channel a job type is pushed on.
func ChannelFor(typ string) string {
	if typ == TypeCSVImport {
		return ChannelCSVImport
	}
	return ChannelDefault
}
