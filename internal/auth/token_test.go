package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueValidate(t *testing.T) {
	tokens, err := NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	want := Identity{AccountID: uuid.New(), Role: "admin"}
	raw, err := tokens.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := tokens.Validate(raw)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tokens, _ := NewTokens("test-secret")
	other, _ := NewTokens("other-secret")
	id := Identity{AccountID: uuid.New(), Role: "investor"}

	expired, _ := tokens.Issue(id, -time.Minute)
	forged, _ := other.Issue(id, time.Hour)
	none, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": id.AccountID.String()}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, raw := range map[string]string{
		"expired":  expired,
		"forged":   forged,
		"alg none": none,
		"garbage":  "not.a.token",
		"empty":    "",
	} {
		if _, err := tokens.Validate(raw); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewTokens_RequiresSecret(t *testing.T) {
	if _, err := NewTokens(""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}
