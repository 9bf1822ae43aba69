package models

import "gorm.io/gorm"

// User is a rep or operator. Ownership of sequences, contacts, and every
// pipeline artifact is scoped by user ID.
type User struct {
	gorm.Model
	Name         string `gorm:"not null" json:"name"`
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	IsAdmin      bool   `gorm:"default:false" json:"is_admin"`
}
