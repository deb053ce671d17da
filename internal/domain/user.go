package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	P2PEnabled   bool
	CreatedAt    time.Time
}

// DisplayName is the privacy-reduced name shown to P2P counterparties:
// first name plus last initial. The initial is the first rune, not the
// first byte, so multibyte names stay intact.
func (u *User) DisplayName() string {
	last := []rune(u.LastName)
	if len(last) == 0 {
		return u.FirstName
	}
	return u.FirstName + " " + string(last[0]) + "."
}
