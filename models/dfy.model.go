package models

import "gorm.io/gorm"

const (
	DfyPurchaseStatusPaid = "PAID"

	FulfillmentPending    = "PENDING"
	FulfillmentInProgress = "IN_PROGRESS"
	FulfillmentDelivered  = "DELIVERED"
)

// DfyProduct is a done-for-you catalog item.
type DfyProduct struct {
	gorm.Model
	Slug  string  `json:"slug" gorm:"type:varchar(191);uniqueIndex;not null"`
	Name  string  `json:"name"`
	Price float64 `json:"price" gorm:"default:0"`
}

// DfyPurchase is unique per (user, product); fulfillment status is owned by the ops workflow.
type DfyPurchase struct {
	gorm.Model
	UserID            uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_user_product"`
	ProductID         uint   `json:"product_id" gorm:"not null;uniqueIndex:idx_user_product"`
	Status            string `json:"status" gorm:"default:'PAID'"`
	FulfillmentStatus string `json:"fulfillment_status" gorm:"default:'PENDING';index"`
	AssignedToID      *uint  `json:"assigned_to_id" gorm:"index"`
	IntakeToken       string `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	SourceTag         string `json:"source_tag"`
}
