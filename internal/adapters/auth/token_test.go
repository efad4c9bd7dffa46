package auth

import (
	"testing"
	"time"

	"github.com/dkeye/classroom/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("s3cret", time.Hour)

	tok, err := tokens.Issue("42")
	req.NoError(err)
	req.NoError(tokens.Verify(tok, "42"))
}

func TestVerifyRejects(t *testing.T) {
	tokens := NewTokens("s3cret", time.Hour)
	tok, err := tokens.Issue("42")
	require.NoError(t, err)

	expired := NewTokens("s3cret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.Issue("42")
	require.NoError(t, err)

	tests := []struct {
		name   string
		tokens *Tokens
		token  string
		uid    domain.ParticipantID
	}{
		{"other participant", tokens, tok, "43"},
		{"wrong secret", NewTokens("other", time.Hour), tok, "42"},
		{"expired", tokens, old, "42"},
		{"garbage", tokens, "not-a-jwt", "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.tokens.Verify(tt.token, tt.uid), ErrInvalidToken)
		})
	}
}
