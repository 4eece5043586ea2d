package entities

import "time"

// RunOutcome is the terminal (or pending) state of a training run.
type RunOutcome string

const (
	RunOutcomePending  RunOutcome = "pending"
	RunOutcomePromoted RunOutcome = "promoted"
	RunOutcomeArchived RunOutcome = "archived"
	RunOutcomeFailed   RunOutcome = "failed"
	RunOutcomeSkipped  RunOutcome = "skipped"
)

// Decided reports whether the run reached promote or archive.
func (o RunOutcome) Decided() bool {
	return o == RunOutcomePromoted || o == RunOutcomeArchived
}

// TrainingRun records one retraining attempt for auditability.
type TrainingRun struct {
	ID         uint       `gorm:"primaryKey"`
	ModelType  string     `gorm:"size:64;index;not null"`
	RunName    string     `gorm:"size:128;uniqueIndex;not null"`
	Outcome    RunOutcome `gorm:"size:16;index;not null"`
	Promoted   bool       `gorm:"not null;default:false"`
	OldMetric  *float64
	NewMetric  *float64
	Images     int       `gorm:"not null;default:0"`
	BackupPath string    `gorm:"size:1024"`
	ResultPath string    `gorm:"size:1024"`
	Message    string    `gorm:"type:text"`
	StartedAt  time.Time `gorm:"index;not null"`
	FinishedAt *time.Time
}

// TableName returns the table name for GORM.
func (TrainingRun) TableName() string {
	return "training_runs"
}
