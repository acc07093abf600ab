package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Group is a named broadcast channel. Labels are unique and case-sensitive.
type Group struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Label     string    `gorm:"uniqueIndex;size:255;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// BeforeCreate assigns a random id to new groups.
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

// Membership links a user to a group.
type Membership struct {
	UserID    string    `gorm:"primaryKey;size:36"`
	GroupID   string    `gorm:"primaryKey;size:36;index"`
	CreatedAt time.Time `gorm:"not null"`
}
