package locktoken

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
)

func TestMint_Claims(t *testing.T) {
	issuer := NewIssuer("lock-secret", 0)
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	token, err := issuer.Mint("1100014934", "adding-value")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "1100014934" {
		t.Errorf("sub = %q", claims.Subject)
	}
	if claims.GrantCode != "adding-value" {
		t.Errorf("grantCode = %q", claims.GrantCode)
	}
	if claims.Type != "lock" {
		t.Errorf("typ = %q, want lock", claims.Type)
	}
	if claims.Issuer != Issuer {
		t.Errorf("iss = %q", claims.Issuer)
	}
	if len(claims.Audience) != 1 || claims.Audience[0] != Audience {
		t.Errorf("aud = %v", claims.Audience)
	}
	if got := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); got != DefaultExpiry {
		t.Errorf("lifetime = %v, want %v", got, DefaultExpiry)
	}
}

func TestMint_MissingSecret(t *testing.T) {
	issuer := NewIssuer("", time.Minute)
	if issuer.Configured() {
		t.Error("Configured() = true with empty secret")
	}
	_, err := issuer.Mint("u1", "g1")
	if !apperrors.IsCode(err, apperrors.CodeConfig) {
		t.Errorf("Mint() error = %v, want ConfigError", err)
	}
}

func TestMint_RequiresSubjectAndGrant(t *testing.T) {
	issuer := NewIssuer("s", time.Minute)
	if _, err := issuer.Mint("", "g1"); err == nil {
		t.Error("Mint(empty user) error = nil")
	}
	if _, err := issuer.Mint("u1", " "); err == nil {
		t.Error("Mint(empty grant) error = nil")
	}
}

func TestVerify_Rejects(t *testing.T) {
	issuer := NewIssuer("lock-secret", time.Minute)
	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return fixed }

	valid, err := issuer.Mint("u1", "g1")
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}

	t.Run("expired", func(t *testing.T) {
		later := NewIssuer("lock-secret", time.Minute)
		later.now = func() time.Time { return fixed.Add(2 * time.Minute) }
		if _, err := later.Verify(valid); err == nil {
			t.Error("Verify(expired) error = nil")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewIssuer("other-secret", time.Minute)
		other.now = issuer.now
		if _, err := other.Verify(valid); err == nil {
			t.Error("Verify(wrong secret) error = nil")
		}
	})

	t.Run("wrong typ", func(t *testing.T) {
		claims := &Claims{
			GrantCode: "g1",
			Type:      "session",
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{Audience},
				ExpiresAt: jwt.NewNumericDate(fixed.Add(time.Minute)),
			},
		}
		signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("lock-secret"))
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if _, err := issuer.Verify(signed); !apperrors.IsCode(err, apperrors.CodeInvalidToken) {
			t.Errorf("Verify(wrong typ) error = %v, want InvalidToken", err)
		}
	})

	t.Run("wrong audience", func(t *testing.T) {
		claims := &Claims{
			GrantCode: "g1",
			Type:      TokenType,
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "u1",
				Issuer:    Issuer,
				Audience:  jwt.ClaimStrings{"someone-else"},
				ExpiresAt: jwt.NewNumericDate(fixed.Add(time.Minute)),
			},
		}
		signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("lock-secret"))
		if _, err := issuer.Verify(signed); err == nil {
			t.Error("Verify(wrong audience) error = nil")
		}
	})
}
