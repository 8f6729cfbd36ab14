package directory

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound indicates the apartment id is unknown.
var ErrNotFound = errors.New("directory: apartment not found")

var _ Apartments = (*PGStore)(nil)

// PGStore reads apartments from the shared PostgreSQL database.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Find(ctx context.Context, apartmentID string) (*Apartment, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, apartment_id, apartment_name, apartment_address, admin_email
		 from apartments where apartment_id=$1`, apartmentID)
	var a Apartment
	if err := row.Scan(&a.UUID, &a.ID, &a.Name, &a.Address, &a.AdminEmail); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
