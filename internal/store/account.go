package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rtchat/authserver/internal/db"
	"github.com/rtchat/authserver/types"
)

const accountColumns = `id, handle, email, password_hash, role, verified,
		       verification_token, verification_expires_at, created_at, updated_at`

// AccountRepository handles persistence for accounts.
type AccountRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAccountRepository(conn *sql.DB) *AccountRepository {
	return &AccountRepository{db: conn, now: time.Now}
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (types.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmailOrHandle returns the account whose email equals email or whose
// handle equals handle. Email matches win when both exist.
func (r *AccountRepository) FindByEmailOrHandle(ctx context.Context, email, handle string) (types.Account, error) {
	const query = `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE email = $1 OR handle = $2
		ORDER BY (email = $1) DESC
		LIMIT 1`
	return scanAccount(r.db.QueryRowContext(ctx, query, email, handle))
}

func (r *AccountRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return count, nil
}

// Insert creates the account if neither its handle nor its email is taken.
// The role is decided inside the same transaction by claiming the singleton
// bootstrap_admin row: the claimer becomes admin, everyone else user. A
// conflicting insert rolls back, releasing any claim it made.
func (r *AccountRepository) Insert(ctx context.Context, account types.Account) (types.Account, error) {
	now := r.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	const claimAdmin = `
		INSERT INTO bootstrap_admin (id, claimed_at)
		VALUES (TRUE, $1)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`
	const insertAccount = `
		INSERT INTO accounts (
			handle, email, password_hash, role, verified,
			verification_token, verification_expires_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING
		RETURNING id`

	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		var claimed bool
		err := tx.QueryRowContext(ctx, claimAdmin, now).Scan(&claimed)
		switch {
		case err == nil:
			account.Role = types.RoleAdmin
		case errors.Is(err, sql.ErrNoRows):
			account.Role = types.RoleUser
		default:
			return fmt.Errorf("claim bootstrap admin: %w", err)
		}

		err = tx.QueryRowContext(
			ctx,
			insertAccount,
			account.Handle,
			account.Email,
			account.PasswordHash,
			string(account.Role),
			account.Verified,
			account.VerificationToken,
			account.VerificationExpiresAt,
			account.CreatedAt,
			account.UpdatedAt,
		).Scan(&account.ID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return types.Account{}, err
	}
	return account, nil
}

// UpdateByID overwrites the mutable fields of the account with the given id.
func (r *AccountRepository) UpdateByID(ctx context.Context, account types.Account) (types.Account, error) {
	account.UpdatedAt = r.now()

	const query = `
		UPDATE accounts
		SET handle = $1,
			email = $2,
			password_hash = $3,
			verified = $4,
			verification_token = $5,
			verification_expires_at = $6,
			updated_at = $7
		WHERE id = $8`
	result, err := r.db.ExecContext(
		ctx,
		query,
		account.Handle,
		account.Email,
		account.PasswordHash,
		account.Verified,
		account.VerificationToken,
		account.VerificationExpiresAt,
		account.UpdatedAt,
		account.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.Account{}, ErrConflict
		}
		return types.Account{}, fmt.Errorf("update account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Account{}, err
	}
	if affected == 0 {
		return types.Account{}, ErrNotFound
	}
	return account, nil
}

// ConsumeVerificationToken marks the account verified and clears its token in
// one conditional update. It returns ErrNotFound when the token no longer
// matches or has expired, e.g. because a concurrent request consumed it.
func (r *AccountRepository) ConsumeVerificationToken(ctx context.Context, id int64, token string, now time.Time) (types.Account, error) {
	const query = `
		UPDATE accounts
		SET verified = TRUE,
			verification_token = NULL,
			verification_expires_at = NULL,
			updated_at = $1
		WHERE id = $2
		  AND verification_token = $3
		  AND verification_expires_at > $4
		RETURNING ` + accountColumns
	return scanAccount(r.db.QueryRowContext(ctx, query, r.now(), id, token, now))
}

func scanAccount(row *sql.Row) (types.Account, error) {
	var account types.Account
	var role string
	err := row.Scan(
		&account.ID,
		&account.Handle,
		&account.Email,
		&account.PasswordHash,
		&role,
		&account.Verified,
		&account.VerificationToken,
		&account.VerificationExpiresAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, fmt.Errorf("scan account: %w", err)
	}
	account.Role, err = types.ParseRole(role)
	if err != nil {
		return types.Account{}, fmt.Errorf("scan account %d: %w", account.ID, err)
	}
	return account, nil
}
