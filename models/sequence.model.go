package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	SequenceEnrollmentActive    = "ACTIVE"
	SequenceEnrollmentPaused    = "PAUSED"
	SequenceEnrollmentCancelled = "CANCELLED"
	SequenceEnrollmentCompleted = "COMPLETED"
)

// Sequence is a named drip of time-delayed messages.
type Sequence struct {
	gorm.Model
	Slug          string         `json:"slug" gorm:"type:varchar(191);uniqueIndex;not null"`
	Name          string         `json:"name"`
	TriggerType   string         `json:"trigger_type" gorm:"index"`
	IsActive      bool           `json:"is_active" gorm:"default:true"`
	EnrolledCount int64          `json:"enrolled_count" gorm:"default:0"`
	Steps         []SequenceStep `json:"steps,omitempty" gorm:"foreignKey:SequenceID"`
}

// SequenceStep is one message; DayOffset counts days from the enrollment date.
type SequenceStep struct {
	gorm.Model
	SequenceID uint   `json:"sequence_id" gorm:"not null;uniqueIndex:idx_sequence_step"`
	StepIndex  int    `json:"step_index" gorm:"not null;uniqueIndex:idx_sequence_step"`
	DayOffset  int    `json:"day_offset" gorm:"default:0"`
	Subject    string `json:"subject"`
	Body       string `json:"body" gorm:"type:text"`
}

// SequenceEnrollment is the per-user cursor into a sequence.
type SequenceEnrollment struct {
	gorm.Model
	UserID           uint       `json:"user_id" gorm:"not null;uniqueIndex:idx_user_sequence"`
	SequenceID       uint       `json:"sequence_id" gorm:"not null;uniqueIndex:idx_user_sequence"`
	Status           string     `json:"status" gorm:"default:'ACTIVE';index"`
	CurrentStepIndex int        `json:"current_step_index" gorm:"default:0"`
	NextSendAt       time.Time  `json:"next_send_at" gorm:"index"`
	EnrolledAt       time.Time  `json:"enrolled_at"`
	LastSentAt       *time.Time `json:"last_sent_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}
