package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	ChannelEmail = "email"
	ChannelDM    = "dm"

	NotificationSent    = "SENT"
	NotificationFailed  = "FAILED"
	NotificationSkipped = "SKIPPED"
)

// OutboundNotification logs every notification attempt. It is not reconciled.
type OutboundNotification struct {
	ID        uint              `json:"id" gorm:"primaryKey"`
	UserID    uint              `json:"user_id" gorm:"index"`
	Channel   string            `json:"channel"`
	Kind      string            `json:"kind" gorm:"index"`
	Recipient string            `json:"recipient"`
	Subject   string            `json:"subject"`
	Status    string            `json:"status"`
	Error     string            `json:"error"`
	DedupeKey string            `json:"dedupe_key" gorm:"index"`
	Metadata  datatypes.JSONMap `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// DirectMessage is an internal inbox message between two users.
type DirectMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	SenderID    uint      `json:"sender_id" gorm:"index"`
	RecipientID uint      `json:"recipient_id" gorm:"index"`
	Body        string    `json:"body" gorm:"type:text"`
	IsRead      bool      `json:"is_read" gorm:"default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// RuleRegistrySnapshot records which rule registry version a process started with.
type RuleRegistrySnapshot struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Version   int            `json:"version"`
	Checksum  string         `json:"checksum" gorm:"type:varchar(64);uniqueIndex"`
	Rules     datatypes.JSON `json:"rules"`
	CreatedAt time.Time      `json:"created_at"`
}
