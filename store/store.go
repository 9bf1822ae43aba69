package store

import (
	"errors"

	"gorm.io/gorm"
)

// Store wraps all pipeline data access. Every stage transition goes through
// a guarded update here (WHERE status = expected, checked via RowsAffected)
// so overlapping worker invocations converge: the loser of a claim race
// no-ops.
type Store struct {
	DB *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db}
}

// ErrAlreadyExists is returned when a check-then-create loses a race and the
// unique index catches the duplicate.
var ErrAlreadyExists = errors.New("record already exists")

func translateCreateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAlreadyExists
	}
	return err
}
