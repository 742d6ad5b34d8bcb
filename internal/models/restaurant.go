package models

// Restaurant represents a tenant on the platform. Branding fields feed the
// cosmetic defaults of push payloads (icon, badge, accent color).
type Restaurant struct {
	BaseModel

	Name         string `gorm:"type:varchar(255);not null" json:"name"`
	Slug         string `gorm:"type:varchar(128);uniqueIndex;not null" json:"slug"`
	ContactEmail string `gorm:"type:varchar(255)" json:"contact_email"`
	LogoURL      string `gorm:"type:text" json:"logo_url"`
	AccentColor  string `gorm:"type:varchar(16)" json:"accent_color"`

	// APIKeyHash stores the bcrypt hash of the tenant API key secret.
	APIKeyHash string `gorm:"type:varchar(128)" json:"-"`
}
