package auth

import (
	"context"
	"time"
)

// Notifier delivers codes to residents out of band. Implementations live
// outside this package; the lifecycle only cares whether delivery happened.
type Notifier interface {
	// SendOTP delivers a sign-in code valid for the given duration.
	SendOTP(ctx context.Context, email, apartmentName, code string, ttl time.Duration) error

	// SendInvitation delivers an invitation code with its flat context and
	// validity window.
	SendInvitation(ctx context.Context, email, apartmentName, flatNumber, floor, code string, ttl time.Duration) error

	// SendWelcome confirms a completed registration. Best effort: failures
	// are logged by the caller, never rolled back.
	SendWelcome(ctx context.Context, email, apartmentName, flatNumber, floor string, role Role) error
}
