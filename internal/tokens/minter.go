// Package tokens mints and checks single-use email verification tokens.
package tokens

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// TokenBytes is the amount of randomness in each token (256 bits).
	TokenBytes = 32
	// Window is how long a verification token stays valid.
	Window = time.Hour
)

// Outcome is the result of checking a supplied token against the stored one.
type Outcome int

const (
	Valid Outcome = iota
	Mismatch
	Expired
	Absent
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Mismatch:
		return "mismatch"
	case Expired:
		return "expired"
	case Absent:
		return "absent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Minter is stateless; clearing a consumed token is the caller's job.
type Minter struct {
	now    func() time.Time
	random func([]byte) (int, error)
}

// NewMinter returns a Minter reading from crypto/rand and the wall clock.
func NewMinter() *Minter {
	return &Minter{now: time.Now, random: rand.Read}
}

// Mint returns a hex encoded random token and its expiry.
func (m *Minter) Mint() (string, time.Time, error) {
	buf := make([]byte, TokenBytes)
	if _, err := m.random(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), m.now().Add(Window), nil
}

// Validate compares supplied against stored in constant time. A matching
// token is Expired once now reaches the stored expiry.
func (m *Minter) Validate(stored *string, expiresAt *time.Time, supplied string, now time.Time) Outcome {
	if stored == nil || expiresAt == nil {
		return Absent
	}
	if subtle.ConstantTimeCompare([]byte(*stored), []byte(supplied)) != 1 {
		return Mismatch
	}
	if !now.Before(*expiresAt) {
		return Expired
	}
	return Valid
}
