package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device holds one push endpoint registered by a single user.
// Web devices use Endpoint/P256DH/Auth, native devices use Token.
type Device struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"index;size:36;not null"`
	Platform  string    `gorm:"size:16;not null"`
	Endpoint  string    `gorm:"size:1024"`
	P256DH    string    `gorm:"column:p256dh;size:256"`
	Auth      string    `gorm:"size:256"`
	Token     string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a random id to new devices.
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
