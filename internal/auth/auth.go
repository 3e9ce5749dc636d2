// Package auth verifies connection and request credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrAuthentication is returned for a missing, malformed, expired or
// otherwise invalid credential, and when verification times out.
var ErrAuthentication = errors.New("authentication failed")

// Identity is the verified caller attached to a connection or request.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Authenticator resolves a bearer credential to an identity.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (*Identity, error)
}

// JWTAuthenticator verifies HS256 tokens carrying sub, email and role claims.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the token. Expiry is enforced when present.
func (a *JWTAuthenticator) Verify(ctx context.Context, credential string) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	credential = strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if credential == "" {
		return nil, fmt.Errorf("%w: no token provided", ErrAuthentication)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.Parse(credential, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: token is invalid", ErrAuthentication)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid token claims", ErrAuthentication)
	}
	sub, _ := claims.GetSubject()
	if sub == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrAuthentication)
	}
	email, _ := claims["email"].(string)
	role, _ := claims["role"].(string)
	return &Identity{UserID: sub, Email: email, Role: role}, nil
}

// IssueToken signs a token for the identity. Used by the admin CLI and tests;
// production credentials come from the external identity provider.
func (a *JWTAuthenticator) IssueToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.UserID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if a.issuer != "" {
		claims["iss"] = a.issuer
	}
	if id.Email != "" {
		claims["email"] = id.Email
	}
	if id.Role != "" {
		claims["role"] = id.Role
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// VerifyWithTimeout bounds a Verify call. A verifier that does not return in
// time fails the handshake with ErrAuthentication.
func VerifyWithTimeout(ctx context.Context, a Authenticator, credential string, timeout time.Duration) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		id  *Identity
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := a.Verify(ctx, credential)
		done <- result{id, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && !errors.Is(r.err, ErrAuthentication) {
			return nil, fmt.Errorf("%w: %v", ErrAuthentication, r.err)
		}
		return r.id, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: verification timed out", ErrAuthentication)
	}
}
