package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"
const testOverrideSecret = "override-secret"

func signToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestValidateAcceptsSignedToken(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	userID := node.Generate()
	orgID := node.Generate()

	v := NewValidator(testSecret, "")
	raw := signToken(t, testSecret, Claims{
		UserID: userID.String(),
		OrgID:  orgID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	identity, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if identity.UserID != userID || identity.OrgID != orgID {
		t.Fatalf("identity mismatch: %+v", identity)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := NewValidator(testSecret, "")
	raw := signToken(t, "other-secret", Claims{
		UserID: "1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.Validate(raw); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewValidator(testSecret, "")
	raw := signToken(t, testSecret, Claims{
		UserID: "1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})

	if _, err := v.Validate(raw); !errors.Is(err, ErrExpiredCredential) {
		t.Fatalf("expected ErrExpiredCredential, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := NewValidator(testSecret, "")
	if _, err := v.Validate("not-a-token"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestOverrideRequiresCrossTenantClaim(t *testing.T) {
	v := NewValidator(testSecret, testOverrideSecret)
	raw := signToken(t, testOverrideSecret, OverrideClaims{
		UserID:      "1",
		CrossTenant: false,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.ValidateOverride(raw); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential without cross_tenant, got %v", err)
	}
}

func TestOverrideRejectsRegularSecret(t *testing.T) {
	// An access token signed with the request secret must never pass
	// as an override, even with cross_tenant set.
	v := NewValidator(testSecret, testOverrideSecret)
	raw := signToken(t, testSecret, OverrideClaims{
		UserID:      "1",
		CrossTenant: true,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	if _, err := v.ValidateOverride(raw); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestOverrideAccepted(t *testing.T) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	userID := node.Generate()

	v := NewValidator(testSecret, testOverrideSecret)
	raw := signToken(t, testOverrideSecret, OverrideClaims{
		UserID:      userID.String(),
		CrossTenant: true,
		Reason:      "support escalation",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	override, err := v.ValidateOverride(raw)
	if err != nil {
		t.Fatalf("validate override: %v", err)
	}
	if override.UserID != userID || override.Reason != "support escalation" {
		t.Fatalf("override mismatch: %+v", override)
	}
}

func TestOverrideDisabledWhenUnconfigured(t *testing.T) {
	v := NewValidator(testSecret, "")
	if _, err := v.ValidateOverride("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
