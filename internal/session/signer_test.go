package session

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rtchat/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{AccountID: 42, Email: "alice@x.com", Role: types.RoleAdmin}

func newTestSigner(t *testing.T, now time.Time) *Signer {
	t.Helper()
	s, err := NewSigner("super-secret", 0)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)

	credential, issued, err := s.Issue(testIdentity, 0)
	require.NoError(t, err)
	assert.Equal(t, now, issued.IssuedAt)
	assert.Equal(t, now.Add(DefaultTTL), issued.ExpiresAt)
	assert.NotEmpty(t, issued.CredentialID)

	claims, err := s.Verify(credential, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, testIdentity, claims.Identity)
	assert.Equal(t, issued.CredentialID, claims.CredentialID)
	assert.True(t, claims.ExpiresAt.Equal(issued.ExpiresAt))
	assert.True(t, claims.IssuedAt.Equal(issued.IssuedAt))
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := newTestSigner(t, now)

	credential, issued, err := s.Issue(testIdentity, time.Hour)
	require.NoError(t, err)

	_, err = s.Verify(credential, issued.ExpiresAt.Add(-time.Second))
	require.NoError(t, err)

	_, err = s.Verify(credential, issued.ExpiresAt)
	assert.ErrorIs(t, err, ErrExpired)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerify_TamperedClaims(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, now)

	credential, _, err := s.Issue(Identity{AccountID: 5, Email: "bob@x.com", Role: types.RoleUser}, 0)
	require.NoError(t, err)

	parts := strings.Split(credential, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))
	fields["role"] = "admin"
	forged, err := json.Marshal(fields)
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString(forged)

	_, err = s.Verify(strings.Join(parts, "."), now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerify_FlippedPayloadByte(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, now)

	credential, _, err := s.Issue(testIdentity, 0)
	require.NoError(t, err)

	raw := []byte(credential)
	idx := strings.Index(credential, ".") + 2
	if raw[idx] == 'A' {
		raw[idx] = 'B'
	} else {
		raw[idx] = 'A'
	}

	_, err = s.Verify(string(raw), now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Now()
	credential, _, err := newTestSigner(t, now).Issue(testIdentity, 0)
	require.NoError(t, err)

	other, err := NewSigner("another-secret", 0)
	require.NoError(t, err)
	_, err = other.Verify(credential, now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerify_RejectsUnsignedAndMalformed(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, now)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "admin",
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = s.Verify(token, now)
	assert.ErrorIs(t, err, ErrRejected)

	_, err = s.Verify("not.a.jwt", now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestVerify_RejectsUnknownRole(t *testing.T) {
	now := time.Now()
	s := newTestSigner(t, now)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Role: "root",
	})
	signed, err := token.SignedString(s.secret)
	require.NoError(t, err)

	_, err = s.Verify(signed, now)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestNewSigner(t *testing.T) {
	_, err := NewSigner("  ", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)

	s, err := NewSigner("k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.TTL())
}

func TestIssue_RejectsInvalidIdentity(t *testing.T) {
	s := newTestSigner(t, time.Now())

	_, _, err := s.Issue(Identity{AccountID: 0, Role: types.RoleUser}, 0)
	assert.Error(t, err)

	_, _, err = s.Issue(Identity{AccountID: 1, Role: "owner"}, 0)
	assert.Error(t, err)
}
