package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	CourseStatusDraft  = "DRAFT"
	CourseStatusActive = "ACTIVE"
)

// Course is the catalog entry the engine enrolls users into, addressed by slug.
type Course struct {
	gorm.Model
	Slug        string `json:"slug" gorm:"type:varchar(191);uniqueIndex;not null"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status" gorm:"default:'ACTIVE'"` // DRAFT, ACTIVE, INACTIVE
	IsDeleted   bool   `json:"-" gorm:"default:false"`
}

// CourseAnalytics is a derived counter, bumped once per new enrollment.
type CourseAnalytics struct {
	CourseID      uint      `json:"course_id" gorm:"primaryKey;autoIncrement:false"`
	TotalEnrolled int64     `json:"total_enrolled" gorm:"default:0"`
	UpdatedAt     time.Time `json:"updated_at"`
}
