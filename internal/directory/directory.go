// Package directory exposes the apartment records this service reads.
// Apartment management itself lives in another service; this side only
// ever resolves an apartment id to its display name and admin email.
package directory

import (
	"context"

	"github.com/google/uuid"
)

// Apartment is the externally owned apartment record.
type Apartment struct {
	UUID       uuid.UUID
	ID         string
	Name       string
	Address    string
	AdminEmail string
}

// Apartments reads apartment records.
type Apartments interface {
	Find(ctx context.Context, apartmentID string) (*Apartment, error)
}
