// Package auth mints and verifies the HS256 bearer tokens that protect the
// API. Auth is optional: an instance without a configured secret serves
// everything unauthenticated.
package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

const (
	// Issuer is the issuer of the token.
	Issuer = "guildsage"
	// KeyID is the version of the signing key.
	KeyID = "v1"
	// AccessTokenAudienceName is the audience name of the access token.
	AccessTokenAudienceName = "user.access-token"
	// DefaultTokenDuration is the lifetime of a minted token.
	DefaultTokenDuration = 30 * 24 * time.Hour
)

// ClaimsMessage is the JWT claims carried by an access token.
type ClaimsMessage struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// GenerateAccessToken generates an access token for the named principal.
// A zero duration yields a token without expiry.
func GenerateAccessToken(name string, expirationTime time.Time, secret []byte) (string, error) {
	registeredClaims := jwt.RegisteredClaims{
		Issuer:   Issuer,
		Audience: jwt.ClaimStrings{AccessTokenAudienceName},
		IssuedAt: jwt.NewNumericDate(time.Now()),
		Subject:  name,
	}
	if !expirationTime.IsZero() {
		registeredClaims.ExpiresAt = jwt.NewNumericDate(expirationTime)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &ClaimsMessage{
		Name:             name,
		RegisteredClaims: registeredClaims,
	})
	token.Header["kid"] = KeyID
	return token.SignedString(secret)
}

// Authenticate verifies a bearer token and returns its claims.
func Authenticate(tokenString string, secret []byte) (*ClaimsMessage, error) {
	if tokenString == "" {
		return nil, errors.New("access token not found")
	}
	claims := &ClaimsMessage{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected access token signing method=%v, expect %v", t.Header["alg"], jwt.SigningMethodHS256)
		}
		if kid, ok := t.Header["kid"].(string); ok && kid == KeyID {
			return secret, nil
		}
		return nil, errors.Errorf("unexpected access token kid=%v", t.Header["kid"])
	})
	if err != nil {
		return nil, errors.Wrap(err, "invalid or expired access token")
	}
	return claims, nil
}

// FromAuthorizationHeader extracts the bearer token from an Authorization
// header value. Returns empty when the header carries no bearer token.
func FromAuthorizationHeader(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
