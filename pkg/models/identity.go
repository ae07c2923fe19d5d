package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a user as issued by the identity provider.
// It is owned externally; the CRM only references it.
type Identity struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}
