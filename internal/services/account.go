// Package services holds the account lifecycle: registration, email
// verification, login and session issuance.
package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rtchat/authserver/internal/logging"
	"github.com/rtchat/authserver/internal/notify"
	"github.com/rtchat/authserver/internal/session"
	"github.com/rtchat/authserver/internal/store"
	"github.com/rtchat/authserver/internal/tokens"
	"github.com/rtchat/authserver/internal/validation"
	"github.com/rtchat/authserver/types"
)

// AccountStore defines persistence operations for accounts. Insert must be an
// atomic conditional insert that also assigns the role.
type AccountStore interface {
	FindByID(ctx context.Context, id int64) (types.Account, error)
	FindByEmailOrHandle(ctx context.Context, email, handle string) (types.Account, error)
	CountAll(ctx context.Context) (int64, error)
	Insert(ctx context.Context, account types.Account) (types.Account, error)
	UpdateByID(ctx context.Context, account types.Account) (types.Account, error)
	ConsumeVerificationToken(ctx context.Context, id int64, token string, now time.Time) (types.Account, error)
}

type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, hashed string) (bool, error)
}

type TokenMinter interface {
	Mint() (string, time.Time, error)
	Validate(stored *string, expiresAt *time.Time, supplied string, now time.Time) tokens.Outcome
}

type SessionSigner interface {
	Issue(identity session.Identity, ttl time.Duration) (string, session.Claims, error)
	Verify(credential string, now time.Time) (session.Claims, error)
}

type Notifier interface {
	SendVerification(ctx context.Context, notice notify.VerificationNotice) error
}

// RegisterResult is returned once the account is persisted. Warning is set
// when the verification notice could not be handed off.
type RegisterResult struct {
	Account types.PublicAccount
	Warning *Error
}

// LoginResult carries the issued credential and the public account fields.
type LoginResult struct {
	Credential string
	Claims     session.Claims
	Account    types.PublicAccount
}

// Revocation describes what logout recorded server-side.
type Revocation interface {
	isRevocation()
}

// NoRevocation is returned while credentials are not tracked server-side.
type NoRevocation struct{}

// DenyListEntry names a credential that must be refused until it expires.
type DenyListEntry struct {
	CredentialID string
	ExpiresAt    time.Time
}

func (NoRevocation) isRevocation()  {}
func (DenyListEntry) isRevocation() {}

// AccountService orchestrates the account state machine
// Created(unverified) -> Verified -> sessions issued. It holds no mutable
// state of its own and is safe for concurrent use.
type AccountService struct {
	store    AccountStore
	hasher   Hasher
	minter   TokenMinter
	signer   SessionSigner
	notifier Notifier
	log      logging.Logger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewAccountService(
	accounts AccountStore,
	hasher Hasher,
	minter TokenMinter,
	signer SessionSigner,
	notifier Notifier,
	log logging.Logger,
) *AccountService {
	if log == nil {
		log = logging.Discard()
	}
	return &AccountService{
		store:    accounts,
		hasher:   hasher,
		minter:   minter,
		signer:   signer,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Register creates an unverified account and sends its verification notice.
// The result is a success once the account is persisted, even when the notice
// fails; that failure is reported through RegisterResult.Warning.
func (s *AccountService) Register(ctx context.Context, req validation.RegisterRequest) (RegisterResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return RegisterResult{}, newError(KindValidationFailed, err.Error(), err)
	}

	if _, err := s.store.FindByEmailOrHandle(ctx, req.Email, req.Handle); err == nil {
		return RegisterResult{}, newError(KindConflict, "user already exists", nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return RegisterResult{}, s.unavailable(ctx, "lookup account", err)
	}

	hashed, err := s.hasher.Hash(req.Password)
	if err != nil {
		return RegisterResult{}, s.unavailable(ctx, "hash secret", err)
	}

	token, expiresAt, err := s.minter.Mint()
	if err != nil {
		return RegisterResult{}, s.unavailable(ctx, "mint verification token", err)
	}

	account := types.Account{
		Handle:       req.Handle,
		Email:        req.Email,
		PasswordHash: hashed,
	}
	account.SetVerification(token, expiresAt)

	created, err := s.store.Insert(ctx, account)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return RegisterResult{}, newError(KindConflict, "user already exists", err)
		}
		return RegisterResult{}, s.unavailable(ctx, "insert account", err)
	}
	s.log.Info(ctx, "account registered", "account_id", created.ID, "role", created.Role)

	result := RegisterResult{Account: created.Public()}
	notice := notify.VerificationNotice{
		AccountID: created.ID,
		Handle:    created.Handle,
		Email:     created.Email,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	if err := s.notifier.SendVerification(ctx, notice); err != nil {
		s.log.Warn(ctx, "verification notice not sent", "account_id", created.ID, "error", err)
		result.Warning = newError(KindNotificationFailed, "account created but the verification email could not be sent", err)
	}
	return result, nil
}

// VerifyEmail consumes the account's pending verification token.
func (s *AccountService) VerifyEmail(ctx context.Context, accountID int64, token string) (types.PublicAccount, error) {
	if accountID < 1 {
		return types.PublicAccount{}, newError(KindNotFound, "user not found", nil)
	}

	account, err := s.store.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicAccount{}, newError(KindNotFound, "user not found", err)
		}
		return types.PublicAccount{}, s.unavailable(ctx, "load account", err)
	}

	now := s.now()
	switch s.minter.Validate(account.VerificationToken, account.VerificationExpiresAt, token, now) {
	case tokens.Absent, tokens.Mismatch:
		return types.PublicAccount{}, newError(KindInvalidToken, "invalid verification token", nil)
	case tokens.Expired:
		return types.PublicAccount{}, newError(KindTokenExpired, "token has expired", nil)
	}

	verified, err := s.store.ConsumeVerificationToken(ctx, account.ID, token, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.PublicAccount{}, newError(KindInvalidToken, "invalid verification token", err)
		}
		return types.PublicAccount{}, s.unavailable(ctx, "consume verification token", err)
	}
	s.log.Info(ctx, "email verified", "account_id", verified.ID)
	return verified.Public(), nil
}

// Login authenticates a handle or email with its secret and issues a session
// credential. Unknown identifiers and wrong secrets yield the same error.
func (s *AccountService) Login(ctx context.Context, req validation.LoginRequest) (LoginResult, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return LoginResult{}, newError(KindValidationFailed, err.Error(), err)
	}

	account, err := s.store.FindByEmailOrHandle(ctx, validation.NormalizeEmail(req.Identifier), req.Identifier)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.burnHash(req.Password)
			return LoginResult{}, newError(KindInvalidCredentials, msgInvalidCredentials, nil)
		}
		return LoginResult{}, s.unavailable(ctx, "lookup account", err)
	}

	ok, err := s.hasher.Verify(req.Password, account.PasswordHash)
	if err != nil {
		return LoginResult{}, s.unavailable(ctx, "verify secret", err)
	}
	if !ok {
		s.log.Debug(ctx, "login rejected", "account_id", account.ID)
		return LoginResult{}, newError(KindInvalidCredentials, msgInvalidCredentials, nil)
	}

	if !account.Verified {
		return LoginResult{}, newError(KindEmailNotVerified, "please verify your email", nil)
	}

	return s.issue(ctx, account)
}

// Logout always succeeds: credentials are self-contained and nothing is
// tracked server-side.
func (s *AccountService) Logout(ctx context.Context) Revocation {
	return NoRevocation{}
}

// LoginWithExternalIdentity maps provider-verified claims onto an account,
// creating a verified one on first sight, and issues a session credential.
func (s *AccountService) LoginWithExternalIdentity(ctx context.Context, claims validation.ExternalClaims) (LoginResult, error) {
	claims.Normalize()
	if err := claims.Validate(); err != nil {
		return LoginResult{}, newError(KindValidationFailed, err.Error(), err)
	}

	account, err := s.store.FindByEmailOrHandle(ctx, claims.Email, "")
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		account, err = s.createExternal(ctx, claims)
		if errors.Is(err, store.ErrConflict) {
			// A concurrent sign-in for the same email won the insert.
			account, err = s.store.FindByEmailOrHandle(ctx, claims.Email, "")
			if errors.Is(err, store.ErrNotFound) {
				return LoginResult{}, newError(KindConflict, "user already exists", err)
			}
			if err != nil {
				return LoginResult{}, s.unavailable(ctx, "lookup account", err)
			}
		} else if err != nil {
			return LoginResult{}, err
		}
	default:
		return LoginResult{}, s.unavailable(ctx, "lookup account", err)
	}

	if !account.Verified {
		if account, err = s.claimUnverified(ctx, account); err != nil {
			return LoginResult{}, err
		}
	}

	s.log.Info(ctx, "external identity login", "account_id", account.ID, "provider", claims.Provider)
	return s.issue(ctx, account)
}

// Authenticate verifies a session credential and returns its claims.
func (s *AccountService) Authenticate(ctx context.Context, credential string) (session.Claims, error) {
	claims, err := s.signer.Verify(credential, s.now())
	if err != nil {
		return session.Claims{}, newError(KindInvalidCredentials, "invalid or expired session", err)
	}
	return claims, nil
}

// CountAccounts reports how many accounts exist.
func (s *AccountService) CountAccounts(ctx context.Context) (int64, error) {
	count, err := s.store.CountAll(ctx)
	if err != nil {
		return 0, s.unavailable(ctx, "count accounts", err)
	}
	return count, nil
}

// claimUnverified hands an unverified account over to the provider-verified
// owner of its email. The secret set at registration was never proven to
// belong to that owner, so it is replaced with an unusable one.
func (s *AccountService) claimUnverified(ctx context.Context, account types.Account) (types.Account, error) {
	hashed, err := s.unusableHash(ctx)
	if err != nil {
		return types.Account{}, err
	}
	account.PasswordHash = hashed
	account.Verified = true
	account.ClearVerification()

	updated, err := s.store.UpdateByID(ctx, account)
	if err != nil {
		return types.Account{}, s.unavailable(ctx, "mark account verified", err)
	}
	s.log.Info(ctx, "unverified account claimed by external identity", "account_id", updated.ID)
	return updated, nil
}

func (s *AccountService) unusableHash(ctx context.Context) (string, error) {
	secret, err := randomHex(32)
	if err != nil {
		return "", s.unavailable(ctx, "generate secret", err)
	}
	hashed, err := s.hasher.Hash(secret)
	if err != nil {
		return "", s.unavailable(ctx, "hash secret", err)
	}
	return hashed, nil
}

func (s *AccountService) createExternal(ctx context.Context, claims validation.ExternalClaims) (types.Account, error) {
	hashed, err := s.unusableHash(ctx)
	if err != nil {
		return types.Account{}, err
	}
	handle, err := externalHandle(claims.Email)
	if err != nil {
		return types.Account{}, s.unavailable(ctx, "derive handle", err)
	}

	created, err := s.store.Insert(ctx, types.Account{
		Handle:       handle,
		Email:        claims.Email,
		PasswordHash: hashed,
		Verified:     true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.Account{}, newError(KindConflict, "user already exists", err)
		}
		return types.Account{}, s.unavailable(ctx, "insert account", err)
	}
	s.log.Info(ctx, "account registered", "account_id", created.ID, "role", created.Role, "provider", claims.Provider)
	return created, nil
}

func (s *AccountService) issue(ctx context.Context, account types.Account) (LoginResult, error) {
	credential, claims, err := s.signer.Issue(session.Identity{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
	}, 0)
	if err != nil {
		return LoginResult{}, s.unavailable(ctx, "issue session", err)
	}
	return LoginResult{
		Credential: credential,
		Claims:     claims,
		Account:    account.Public(),
	}, nil
}

// burnHash spends roughly one hash verification so unknown identifiers take
// as long as wrong secrets.
func (s *AccountService) burnHash(plaintext string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("not-a-real-account-secret")
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(plaintext, s.dummyHash)
	}
}

func (s *AccountService) unavailable(ctx context.Context, op string, err error) *Error {
	s.log.Error(ctx, "account operation failed", "op", op, "error", err)
	return newError(KindStoreUnavailable, msgStoreUnavailable, err)
}

func externalHandle(email string) (string, error) {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}

	var b strings.Builder
	for _, r := range strings.ToLower(local) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if len(base) > 13 {
		base = base[:13]
	}
	if base == "" {
		base = "user"
	}

	suffix, err := randomHex(3)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
