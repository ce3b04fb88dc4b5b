package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenVerifier_IssueAndVerify(t *testing.T) {
	v := NewTokenVerifier(JWTConfig{SigningKey: testSigningKey, Issuer: "carelink", Audience: "carelink-web"})

	tokenStr, err := v.Issue("PH1", RolePharmacy, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := v.Verify(tokenStr)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "PH1" || claims.PrimaryRole() != RolePharmacy {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenVerifier_RejectsIssuerMismatch(t *testing.T) {
	minted := NewTokenVerifier(JWTConfig{SigningKey: testSigningKey, Issuer: "someone-else"})
	tokenStr, err := minted.Issue("u1", RolePatient, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	v := NewTokenVerifier(JWTConfig{SigningKey: testSigningKey, Issuer: "carelink"})
	if _, err := v.Verify(tokenStr); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenVerifier_RejectsMissingSubject(t *testing.T) {
	tokenStr := createTestToken(t, Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}, testSigningKey)

	if _, err := testVerifier().Verify(tokenStr); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenVerifier_NoKey(t *testing.T) {
	v := NewTokenVerifier(JWTConfig{})
	if _, err := v.Verify("anything"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Issue("u1", RolePatient, time.Hour); err == nil {
		t.Fatal("expected issue without key to fail")
	}
}

func TestClaims_AllRoles(t *testing.T) {
	c := &Claims{Role: RoleDoctor, Roles: []string{RoleAdmin}}
	roles := c.AllRoles()
	if len(roles) != 2 || roles[0] != RoleDoctor {
		t.Fatalf("expected [doctor admin], got %v", roles)
	}

	c = &Claims{Role: RoleAdmin, Roles: []string{RoleAdmin}}
	if len(c.AllRoles()) != 1 {
		t.Fatalf("expected no duplicate role, got %v", c.AllRoles())
	}
}
