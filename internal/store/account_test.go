package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/rtchat/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	fixedNow   = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	columnList = []string{
		"id", "handle", "email", "password_hash", "role", "verified",
		"verification_token", "verification_expires_at", "created_at", "updated_at",
	}
)

func newRepoWithMock(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := NewAccountRepository(conn)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func accountRow(id int64, handle, email, role string, verified bool, token any, expires any) *sqlmock.Rows {
	return sqlmock.NewRows(columnList).
		AddRow(id, handle, email, "$2a$10$hash", role, verified, token, expires, fixedNow, fixedNow)
}

func TestFindByID_Found(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	expires := fixedNow.Add(time.Hour)
	mock.ExpectQuery(`(?s)SELECT .* FROM accounts\s+WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(accountRow(7, "alice", "alice@x.com", "admin", false, "tok", expires))

	got, err := repo.FindByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, types.RoleAdmin, got.Role)
	require.NotNil(t, got.VerificationToken)
	assert.Equal(t, "tok", *got.VerificationToken)
	require.NotNil(t, got.VerificationExpiresAt)
	assert.True(t, got.VerificationExpiresAt.Equal(expires))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts\s+WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByID_UnknownRole(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts`).
		WillReturnRows(accountRow(1, "alice", "alice@x.com", "root", true, nil, nil))

	_, err := repo.FindByID(context.Background(), 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFindByEmailOrHandle(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts\s+WHERE email = \$1 OR handle = \$2`).
		WithArgs("alice@x.com", "alice").
		WillReturnRows(accountRow(3, "alice", "alice@x.com", "user", true, nil, nil))

	got, err := repo.FindByEmailOrHandle(context.Background(), "alice@x.com", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Handle)
	assert.True(t, got.Verified)
	assert.Nil(t, got.VerificationToken)
	assert.Nil(t, got.VerificationExpiresAt)
}

func TestFindByEmailOrHandle_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)SELECT .* FROM accounts`).
		WillReturnError(errors.New("db down"))

	_, err := repo.FindByEmailOrHandle(context.Background(), "a@x.com", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestCountAll(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	count, err := repo.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
}

func newAccount() types.Account {
	account := types.Account{Handle: "alice", Email: "alice@x.com", PasswordHash: "$2a$10$hash"}
	account.SetVerification("tok", fixedNow.Add(time.Hour))
	return account
}

func TestInsert_FirstAccountBecomesAdmin(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)INSERT INTO bootstrap_admin .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(true))
	mock.ExpectQuery(`(?s)INSERT INTO accounts .* ON CONFLICT DO NOTHING\s+RETURNING id`).
		WithArgs("alice", "alice@x.com", "$2a$10$hash", "admin", false, "tok", fixedNow.Add(time.Hour), fixedNow, fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	got, err := repo.Insert(context.Background(), newAccount())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, types.RoleAdmin, got.Role)
	assert.Equal(t, fixedNow, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_LaterAccountsAreUsers(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bootstrap_admin`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO accounts`).
		WithArgs("alice", "alice@x.com", "$2a$10$hash", "user", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectCommit()

	got, err := repo.Insert(context.Background(), newAccount())
	require.NoError(t, err)
	assert.Equal(t, types.RoleUser, got.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_ConflictRollsBackAdminClaim(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bootstrap_admin`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(true))
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.Insert(context.Background(), newAccount())
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert_UniqueViolationIsConflict(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bootstrap_admin`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key"})
	mock.ExpectRollback()

	_, err := repo.Insert(context.Background(), newAccount())
	assert.ErrorIs(t, err, ErrConflict)
}

func TestInsert_ClaimError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO bootstrap_admin`).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	_, err := repo.Insert(context.Background(), newAccount())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "claim bootstrap admin")
}

func TestUpdateByID(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	account := types.Account{ID: 5, Handle: "bob", Email: "bob@x.com", PasswordHash: "h", Role: types.RoleUser, Verified: true}
	mock.ExpectExec(`(?s)UPDATE accounts\s+SET handle = \$1.*WHERE id = \$8`).
		WithArgs("bob", "bob@x.com", "h", true, nil, nil, fixedNow, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := repo.UpdateByID(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, fixedNow, got.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateByID_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`UPDATE accounts`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdateByID(context.Background(), types.Account{ID: 5, Role: types.RoleUser})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsumeVerificationToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	checkAt := fixedNow.Add(10 * time.Minute)
	mock.ExpectQuery(`(?s)UPDATE accounts\s+SET verified = TRUE.*AND verification_token = \$3\s+AND verification_expires_at > \$4\s+RETURNING`).
		WithArgs(fixedNow, int64(7), "tok", checkAt).
		WillReturnRows(accountRow(7, "alice", "alice@x.com", "admin", true, nil, nil))

	got, err := repo.ConsumeVerificationToken(context.Background(), 7, "tok", checkAt)
	require.NoError(t, err)
	assert.True(t, got.Verified)
	assert.False(t, got.HasPendingVerification())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeVerificationToken_AlreadyConsumed(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.ConsumeVerificationToken(context.Background(), 7, "tok", fixedNow)
	assert.ErrorIs(t, err, ErrNotFound)
}
