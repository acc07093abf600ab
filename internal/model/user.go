package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User owns devices and opts into groups. It carries no profile data.
type User struct {
	ID        string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a random id to new users.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
