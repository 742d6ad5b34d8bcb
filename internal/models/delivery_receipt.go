package models

import "time"

// DeliveryReceipt records the outcome of one delivery attempt against one
// subscription within one broadcast. Upserted on the
// (notification_id, subscription_id) pair so a broadcast leaves at most one
// row per target.
type DeliveryReceipt struct {
	BaseModel

	NotificationID string `gorm:"type:uuid;uniqueIndex:idx_receipt_target;not null" json:"notification_id"`
	SubscriptionID string `gorm:"type:uuid;uniqueIndex:idx_receipt_target;not null" json:"subscription_id"`

	Sent        bool      `json:"sent"`
	StatusCode  int       `json:"status_code"`
	Error       string    `gorm:"type:text" json:"error,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}
