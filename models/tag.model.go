package models

import "time"

// UserTag is one fact recorded against a user. Rows are never updated.
type UserTag struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_user_tag"`
	Tag       string    `json:"tag" gorm:"type:varchar(255);not null;uniqueIndex:idx_user_tag"`
	Value     *string   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// MarketingTag is an admin-curated catalog entry surfaced for autocomplete.
type MarketingTag struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Slug        string    `json:"slug" gorm:"type:varchar(255);uniqueIndex;not null"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
