package store

import (
	"voltcrm/models"
)

// GetContactWithAccount loads a contact and its account dossier, the raw
// material for the generation context.
func (s *Store) GetContactWithAccount(id uint) (*models.Contact, error) {
	var contact models.Contact
	if err := s.DB.Preload("Account").First(&contact, id).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

// GetTemplate loads a step's content template.
func (s *Store) GetTemplate(id uint) (*models.Template, error) {
	var template models.Template
	if err := s.DB.First(&template, id).Error; err != nil {
		return nil, err
	}
	return &template, nil
}
