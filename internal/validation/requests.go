// Package validation checks the shape of auth payloads before they reach the
// account service.
package validation

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	HandleMinLength   = 3
	HandleMaxLength   = 20
	EmailMinLength    = 3
	EmailMaxLength    = 50
	PasswordMinLength = 8
	PasswordMaxLength = 20

	passwordSymbols = "!@#$%^&*()_+-={}[]|:;\"'<>,.?/~`"
)

// ExternalEmailMaxLength matches the accounts.email column.
const ExternalEmailMaxLength = 255

// RegisterRequest is the registration payload.
type RegisterRequest struct {
	Handle   string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Normalize trims the handle and email and lower-cases the email.
// The password is left untouched.
func (r *RegisterRequest) Normalize() {
	r.Handle = strings.TrimSpace(r.Handle)
	r.Email = NormalizeEmail(r.Email)
}

// Validate runs the registration rules, including password complexity.
func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Handle, validation.Required, validation.Length(HandleMinLength, HandleMaxLength)),
		validation.Field(&r.Email, validation.Required, validation.Length(EmailMinLength, EmailMaxLength), is.Email),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(PasswordMinLength, PasswordMaxLength),
			validation.By(PasswordComplexity),
		),
	)
}

// LoginRequest is the login payload. Identifier is a handle or an email.
// Only presence is checked here: complexity rules apply at registration.
type LoginRequest struct {
	Identifier string `json:"user"`
	Password   string `json:"password"`
}

func (r *LoginRequest) Normalize() {
	r.Identifier = strings.TrimSpace(r.Identifier)
}

func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Identifier, validation.Required, validation.Length(1, EmailMaxLength)),
		validation.Field(&r.Password, validation.Required),
	)
}

// ExternalClaims are the identity claims handed over by an external identity
// provider once its own handshake has completed.
type ExternalClaims struct {
	Provider      string `json:"provider"`
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (c *ExternalClaims) Normalize() {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	c.Subject = strings.TrimSpace(c.Subject)
	c.Email = NormalizeEmail(c.Email)
	c.Name = strings.TrimSpace(c.Name)
}

func (c ExternalClaims) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Provider, validation.Required),
		validation.Field(&c.Subject, validation.Required),
		validation.Field(&c.Email, validation.Required, validation.Length(EmailMinLength, ExternalEmailMaxLength), is.Email),
		validation.Field(&c.EmailVerified, validation.By(mustBeTrue)),
	)
}

// PasswordComplexity requires at least one ASCII upper-case letter, one ASCII
// digit and one symbol.
func PasswordComplexity(value any) error {
	password, _ := value.(string)
	var upper, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSymbols, r):
			symbol = true
		}
	}
	if !upper || !digit || !symbol {
		return errors.New("must contain an upper-case letter, a digit and a symbol")
	}
	return nil
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func mustBeTrue(value any) error {
	if ok, _ := value.(bool); !ok {
		return errors.New("must be verified by the provider")
	}
	return nil
}
