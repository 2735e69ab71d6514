package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "u-1"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-test-secret-test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

type countingSource struct {
	tokens []string
	calls  int
}

func (s *countingSource) Credential(context.Context) (string, error) {
	tok := s.tokens[min(s.calls, len(s.tokens)-1)]
	s.calls++
	return tok, nil
}

func TestStatic(t *testing.T) {
	got, err := Static("abc").Credential(context.Background())
	if err != nil || got != "abc" {
		t.Errorf("Static = %q, %v", got, err)
	}
	if _, err := Static("").Credential(context.Background()); !errors.Is(err, ErrNoCredential) {
		t.Errorf("empty Static error = %v, want ErrNoCredential", err)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Date(2030, 5, 1, 12, 0, 0, 0, time.UTC)
	got, ok := Expiry(signedToken(t, exp))
	if !ok || !got.Equal(exp) {
		t.Errorf("Expiry = %v, %v; want %v", got, ok, exp)
	}
	if _, ok := Expiry(signedToken(t, time.Time{})); ok {
		t.Error("JWT without exp should report ok=false")
	}
	if _, ok := Expiry("opaque-token"); ok {
		t.Error("opaque token should report ok=false")
	}
}

func TestCached_RefreshesNearExpiry(t *testing.T) {
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	first := signedToken(t, now.Add(5*time.Minute))
	second := signedToken(t, now.Add(time.Hour))
	src := &countingSource{tokens: []string{first, second}}

	c := NewCached(src, 30*time.Second)
	c.now = func() time.Time { return now }

	for range 3 {
		got, err := c.Credential(context.Background())
		if err != nil || got != first {
			t.Fatalf("Credential = %v; want first token", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}

	now = now.Add(4*time.Minute + 45*time.Second)
	got, err := c.Credential(context.Background())
	if err != nil || got != second {
		t.Fatalf("expected refresh inside skew window, err=%v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestCached_OpaqueKeptUntilInvalidate(t *testing.T) {
	src := &countingSource{tokens: []string{"opaque-1", "opaque-2"}}
	c := NewCached(src, 0)

	got, _ := c.Credential(context.Background())
	got2, _ := c.Credential(context.Background())
	if got != "opaque-1" || got2 != "opaque-1" {
		t.Fatalf("got %q, %q", got, got2)
	}

	c.Invalidate()
	got, _ = c.Credential(context.Background())
	if got != "opaque-2" {
		t.Errorf("after Invalidate got %q, want opaque-2", got)
	}
}

func TestCached_PropagatesSourceError(t *testing.T) {
	boom := errors.New("boom")
	c := NewCached(Func(func(context.Context) (string, error) { return "", boom }), 0)
	if _, err := c.Credential(context.Background()); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
