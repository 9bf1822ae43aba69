package models

import "gorm.io/gorm"

// Template holds the prompt skeleton a step hands to the content generation
// service. Subject and Body may contain {{FirstName}}-style placeholders the
// generator is expected to resolve from the target context.
type Template struct {
	gorm.Model
	OwnerID uint `gorm:"not null;index" json:"owner_id"`

	Name    string `gorm:"not null" json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`

	// Free-form guidance passed to the generation service alongside the
	// skeleton (tone, value proposition, call to action).
	Instructions string `json:"instructions"`
}
