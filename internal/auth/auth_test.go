package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := NewJWTAuthenticator("test-secret", "relaychat")

	token, err := a.IssueToken(Identity{UserID: "user-1", Email: "u@example.com", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	for _, credential := range []string{token, "Bearer " + token} {
		id, err := a.Verify(context.Background(), credential)
		require.NoError(t, err)
		assert.Equal(t, &Identity{UserID: "user-1", Email: "u@example.com", Role: "admin"}, id)
	}
}

func TestJWTAuthenticator_Rejects(t *testing.T) {
	a := NewJWTAuthenticator("test-secret", "relaychat")

	expired, err := a.IssueToken(Identity{UserID: "user-1"}, -time.Minute)
	require.NoError(t, err)
	otherSecret, err := NewJWTAuthenticator("other", "relaychat").IssueToken(Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)
	otherIssuer, err := NewJWTAuthenticator("test-secret", "someone-else").IssueToken(Identity{UserID: "user-1"}, time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "relaychat",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"expired":      expired,
		"wrong secret": otherSecret,
		"wrong issuer": otherIssuer,
		"no subject":   noSubject,
	}
	for name, credential := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(context.Background(), credential)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}

type slowAuthenticator struct{ delay time.Duration }

func (s slowAuthenticator) Verify(ctx context.Context, _ string) (*Identity, error) {
	select {
	case <-time.After(s.delay):
		return &Identity{UserID: "late"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type brokenAuthenticator struct{}

func (brokenAuthenticator) Verify(context.Context, string) (*Identity, error) {
	return nil, errors.New("identity provider unreachable")
}

func TestVerifyWithTimeout(t *testing.T) {
	_, err := VerifyWithTimeout(context.Background(), slowAuthenticator{delay: time.Second}, "x", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrAuthentication)

	id, err := VerifyWithTimeout(context.Background(), slowAuthenticator{}, "x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", id.UserID)

	_, err = VerifyWithTimeout(context.Background(), brokenAuthenticator{}, "x", time.Second)
	assert.ErrorIs(t, err, ErrAuthentication)
}
