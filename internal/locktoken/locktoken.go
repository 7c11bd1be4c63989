// Package locktoken mints the short-lived signed assertion that accompanies
// every write to the state backend.
//
// The token binds an applicant and grant to one write request so the backend
// can audit it and reject replays. It is not a mutual-exclusion lock: the
// backend alone decides how long a write stays valid.
package locktoken

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
)

const (
	// Issuer identifies this frontend.
	Issuer = "grants-ui"
	// Audience identifies the state backend.
	Audience = "grants-ui-backend"
	// TokenType is the fixed typ claim.
	TokenType = "lock"
	// DefaultExpiry bounds replay risk; it does not express lock duration.
	DefaultExpiry = 5 * time.Minute
)

// Claims are the lock token claims.
type Claims struct {
	GrantCode string `json:"grantCode"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenIssuer signs lock tokens with an HMAC secret.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. An empty secret yields an issuer whose Mint
// always fails with a ConfigError.
func NewIssuer(secret string, expiry time.Duration) *TokenIssuer {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &TokenIssuer{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}
}

// Configured reports whether a signing secret is present.
func (i *TokenIssuer) Configured() bool {
	return i != nil && len(i.secret) > 0
}

// Mint signs a fresh lock token for userID and grantCode.
func (i *TokenIssuer) Mint(userID, grantCode string) (string, error) {
	if !i.Configured() {
		return "", apperrors.Config("APPLICATION_LOCK_TOKEN_SECRET")
	}
	userID = strings.TrimSpace(userID)
	grantCode = strings.TrimSpace(grantCode)
	if userID == "" {
		return "", apperrors.Validation("userId", "required for lock token")
	}
	if grantCode == "" {
		return "", apperrors.Validation("grantCode", "required for lock token")
	}

	now := i.now()
	claims := &Claims{
		GrantCode: grantCode,
		Type:      TokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    Issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign lock token: %w", err)
	}
	return signed, nil
}

// Verify parses a lock token and checks signature, issuer, audience, expiry
// and type. Used by the local mock backend.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if !i.Configured() {
		return nil, apperrors.Config("APPLICATION_LOCK_TOKEN_SECRET")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.InvalidToken(nil)
	}
	if claims.Type != TokenType {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "typ is not lock")
	}
	return claims, nil
}
