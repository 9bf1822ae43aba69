package models

import "gorm.io/gorm"

// Account is an energy-customer dossier (the company a contact works for).
type Account struct {
	gorm.Model
	OwnerID uint `gorm:"not null;index" json:"owner_id"`

	Name            string  `gorm:"not null" json:"name"`
	Industry        string  `json:"industry"`
	CurrentSupplier string  `json:"current_supplier"`
	AnnualUsageKWh  float64 `json:"annual_usage_kwh"`
	ContractEndDate string  `json:"contract_end_date"`

	// Relations
	Contacts []Contact `gorm:"foreignKey:AccountID" json:"contacts,omitempty"`
}

// Contact is a person at an account. Contacts are the target entities
// sequences enroll.
type Contact struct {
	gorm.Model
	OwnerID   uint  `gorm:"not null;index" json:"owner_id"`
	AccountID *uint `gorm:"index" json:"account_id"`

	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `gorm:"not null;index" json:"email"`
	Phone     string `json:"phone"`
	Title     string `json:"title"`

	DoNotContact bool `gorm:"default:false" json:"do_not_contact"`

	// Relations
	Account *Account `json:"account,omitempty"`
}
