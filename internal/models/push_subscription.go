package models

import (
	"gorm.io/datatypes"
)

// PushSubscription is a persisted delivery target: one browser push channel
// belonging to a restaurant's audience. Token holds the subscription JSON
// exactly as issued by the client device (endpoint plus p256dh/auth keys)
// and is immutable once stored.
type PushSubscription struct {
	BaseModel

	RestaurantID string         `gorm:"type:uuid;index;not null" json:"restaurant_id"`
	Token        datatypes.JSON `gorm:"not null" json:"token"`

	// IsActive is flipped to false exactly when a delivery attempt is
	// rejected with 404 or 410; every other failure leaves it untouched.
	IsActive bool `gorm:"default:true;index" json:"is_active"`
}
