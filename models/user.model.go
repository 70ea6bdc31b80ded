package models

import (
	"time"

	"gorm.io/gorm"
)

// Roles
const (
	RoleUser  = "USER"
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

// Lifecycle stages. Promotion only ever moves LEAD -> STUDENT.
const (
	StageLead    = "LEAD"
	StageStudent = "STUDENT"
)

type User struct {
	gorm.Model
	Name                string     `json:"name" gorm:"default:''"`
	Email               string     `json:"email" gorm:"unique;not null"`
	Role                string     `json:"role" gorm:"default:'USER'"` // USER, STAFF, ADMIN
	LifecycleStage      string     `json:"lifecycle_stage" gorm:"default:'LEAD'"`
	PromotedAt          *time.Time `json:"promoted_at"`
	AcquisitionSource   string     `json:"acquisition_source" gorm:"default:''"`
	MiniDiplomaCategory string     `json:"mini_diploma_category" gorm:"default:''"`
	MiniDiplomaOptinAt  *time.Time `json:"mini_diploma_optin_at"`
	IsDeleted           bool       `json:"-" gorm:"default:false"`
}
