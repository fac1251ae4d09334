package staffauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGenerateAuthenticateRoundTrip(t *testing.T) {
	s, err := NewService("secret")
	if err != nil {
		t.Fatal(err)
	}

	raw, err := s.GenerateToken("staff-1", "t-1", []string{CapRead, CapInspect, CapRead, " "}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	p, err := s.Authenticate(raw)
	if err != nil {
		t.Fatal(err)
	}
	if p.ActorID != "staff-1" || p.TenantID != "t-1" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.Can(CapRead) || !p.Can(CapInspect) {
		t.Fatalf("missing capabilities: %+v", p.Capabilities)
	}
	if p.Can(CapSupplier) {
		t.Fatal("unexpected capability")
	}
	if len(p.Capabilities) != 2 {
		t.Fatalf("capabilities not deduped: %+v", p.Capabilities)
	}
}

func TestAuthorize(t *testing.T) {
	s, _ := NewService("secret")
	raw, _ := s.GenerateToken("staff-1", "t-1", []string{CapRead}, time.Hour)
	p, err := s.Authenticate(raw)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Authorize(p, "t-1", CapRead); err != nil {
		t.Fatalf("expected authorized, got %v", err)
	}
	if err := s.Authorize(p, "t-2", CapRead); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on tenant mismatch, got %v", err)
	}
	if err := s.Authorize(p, "t-1", CapInspect); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden on missing capability, got %v", err)
	}
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	s, _ := NewService("secret")
	other, _ := NewService("other-secret")

	raw, _ := other.GenerateToken("staff-1", "t-1", []string{CapRead}, time.Hour)
	for _, token := range []string{"", "garbage", raw} {
		if _, err := s.Authenticate(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}

func TestAuthenticateRejectsExpired(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	s, _ := NewService("secret", WithClock(func() time.Time { return clock }))

	raw, err := s.GenerateToken("staff-1", "t-1", []string{CapRead}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	clock = now.Add(2 * time.Hour)
	if _, err := s.Authenticate(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	p := Principal{ActorID: "staff-1", TenantID: "t-1"}
	ctx := ContextWithPrincipal(context.Background(), p)

	got, ok := PrincipalFromContext(ctx)
	if !ok || got.ActorID != "staff-1" {
		t.Fatalf("unexpected principal: %+v ok=%v", got, ok)
	}
	if _, ok := PrincipalFromContext(context.Background()); ok {
		t.Fatal("expected no principal in empty context")
	}
}
