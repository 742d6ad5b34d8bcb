package models

import (
	"gorm.io/datatypes"
)

// Broadcast status values.
const (
	NotificationStatusSending = "sending"
	NotificationStatusSent    = "sent"
)

// Notification is the audit record of one broadcast: what was sent, to how
// many targets, and whether the fan-out completed. It is written
// best-effort and never read back by the delivery pipeline itself.
type Notification struct {
	BaseModel

	RestaurantID string         `gorm:"type:uuid;index;not null" json:"restaurant_id"`
	Title        string         `gorm:"type:varchar(255);not null" json:"title"`
	Message      string         `gorm:"type:text" json:"message"`
	Payload      datatypes.JSON `json:"payload"`

	Status         string `gorm:"type:varchar(32);default:'sending';index" json:"status"`
	SentCount      int    `json:"sent_count"`
	TotalAttempted int    `json:"total_attempted"`
}
