package types

import (
	"fmt"
	"time"
)

// Role is the authorization level of an account. Only RoleAdmin and RoleUser exist.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole converts a stored or decoded value into a Role, rejecting unknown values.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleAdmin, RoleUser:
		return Role(value), nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

func (r Role) String() string {
	return string(r)
}

// Account represents a registered identity.
// It contains credentials, verification state, role, and audit metadata.
type Account struct {
	// ID is the store-assigned identifier of the account.
	ID int64 `json:"id" db:"id"`

	// Handle is the unique name chosen at registration (3-20 characters).
	Handle string `json:"handle" db:"handle"`

	// Email is the unique, lower-cased address used for verification and login.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the account secret.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// Role is assigned once, at creation: the first account is admin.
	Role Role `json:"role" db:"role"`

	// Verified reports whether ownership of Email has been proven.
	Verified bool `json:"verified" db:"verified"`

	// VerificationToken and VerificationExpiresAt are set together while a
	// verification is outstanding and cleared together once it is consumed.
	VerificationToken     *string    `json:"-" db:"verification_token"`
	VerificationExpiresAt *time.Time `json:"-" db:"verification_expires_at"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasPendingVerification reports whether a verification token is outstanding.
func (a Account) HasPendingVerification() bool {
	return a.VerificationToken != nil && a.VerificationExpiresAt != nil
}

// SetVerification stores a pending verification token and its expiry.
func (a *Account) SetVerification(token string, expiresAt time.Time) {
	a.VerificationToken = &token
	a.VerificationExpiresAt = &expiresAt
}

// ClearVerification drops the pending token and its expiry together.
func (a *Account) ClearVerification() {
	a.VerificationToken = nil
	a.VerificationExpiresAt = nil
}

// Public returns the fields of the account that may leave the service.
func (a Account) Public() PublicAccount {
	return PublicAccount{
		ID:     a.ID,
		Handle: a.Handle,
		Email:  a.Email,
		Role:   a.Role,
	}
}

// PublicAccount is the public-safe projection of an Account.
type PublicAccount struct {
	ID     int64  `json:"id"`
	Handle string `json:"handle"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}
