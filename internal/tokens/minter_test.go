package tokens

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMint_TokenShapeAndExpiry(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := NewMinter()
	m.now = func() time.Time { return fixed }

	token, expiresAt, err := m.Mint()
	require.NoError(t, err)
	assert.Len(t, token, TokenBytes*2)
	assert.Regexp(t, `^[0-9a-f]+$`, token)
	assert.Equal(t, fixed.Add(time.Hour), expiresAt)

	other, _, err := m.Mint()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestMint_RandomFailure(t *testing.T) {
	m := NewMinter()
	m.random = func([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

	_, _, err := m.Mint()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	m := NewMinter()
	stored := "abc123"
	expiresAt := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		stored    *string
		expiresAt *time.Time
		supplied  string
		now       time.Time
		want      Outcome
	}{
		{"absent", nil, nil, "abc123", expiresAt.Add(-time.Minute), Absent},
		{"mismatch", &stored, &expiresAt, "abc124", expiresAt.Add(-time.Minute), Mismatch},
		{"mismatch wins over expiry", &stored, &expiresAt, "nope", expiresAt.Add(time.Hour), Mismatch},
		{"valid just before expiry", &stored, &expiresAt, "abc123", expiresAt.Add(-time.Nanosecond), Valid},
		{"expired at boundary", &stored, &expiresAt, "abc123", expiresAt, Expired},
		{"expired after", &stored, &expiresAt, "abc123", expiresAt.Add(time.Second), Expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Validate(tt.stored, tt.expiresAt, tt.supplied, tt.now))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
