package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	EnrollmentActive    = "ACTIVE"
	EnrollmentCompleted = "COMPLETED"
)

// Enrollment is unique per (user, course) for the lifetime of the account.
type Enrollment struct {
	gorm.Model
	UserID     uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_user_course"`
	CourseID   uint      `json:"course_id" gorm:"not null;uniqueIndex:idx_user_course"`
	Status     string    `json:"status" gorm:"default:'ACTIVE'"` // ACTIVE, COMPLETED
	Progress   float64   `json:"progress" gorm:"default:0"`      // Completion percentage (0-100)
	EnrolledAt time.Time `json:"enrolled_at"`
	Course     Course    `json:"-" gorm:"foreignKey:CourseID;constraint:OnDelete:CASCADE"`
}
