package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestOpenVerifyRoundTrip(t *testing.T) {
	svc := NewService("test-secret", 5*time.Minute)
	teacherID := uuid.New()
	classID := uuid.New()
	now := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)

	token, opened, err := svc.Open(teacherID, classID, now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.ExpiresAt != now.Add(5*time.Minute) {
		t.Errorf("ExpiresAt = %v, want %v", opened.ExpiresAt, now.Add(5*time.Minute))
	}

	win, err := svc.Verify(token, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if win.ClassID != classID {
		t.Errorf("ClassID = %v, want %v", win.ClassID, classID)
	}
	if win.TeacherID != teacherID {
		t.Errorf("TeacherID = %v, want %v", win.TeacherID, teacherID)
	}
	if win.Nonce != opened.Nonce {
		t.Errorf("Nonce = %q, want %q", win.Nonce, opened.Nonce)
	}
	if !win.ExpiresAt.Equal(opened.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", win.ExpiresAt, opened.ExpiresAt)
	}
}

func TestVerifyWindowLifetime(t *testing.T) {
	svc := NewService("test-secret", 300*time.Second)
	now := time.Unix(1_760_000_000, 0)

	token, _, err := svc.Open(uuid.New(), uuid.New(), now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cases := []struct {
		name    string
		offset  time.Duration
		wantErr error
	}{
		{"immediately", 0, nil},
		{"mid window", 120 * time.Second, nil},
		{"just before close", 299 * time.Second, nil},
		{"just after close", 301 * time.Second, ErrExpiredToken},
		{"long after close", time.Hour, ErrExpiredToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Verify(token, now.Add(tc.offset))
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("Verify at +%v: err = %v, want %v", tc.offset, err, tc.wantErr)
			}
		})
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter := NewService("secret-a", 5*time.Minute)
	verifier := NewService("secret-b", 5*time.Minute)
	now := time.Now()

	token, _, err := minter.Open(uuid.New(), uuid.New(), now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := verifier.Verify(token, now); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

// A forged token that is also past its deadline must come back as invalid,
// not expired: the signature check runs first, so an attacker cannot learn
// window timing from error kinds.
func TestVerifyTamperBeatsExpiry(t *testing.T) {
	forger := NewService("wrong-secret", 5*time.Minute)
	svc := NewService("real-secret", 5*time.Minute)
	now := time.Now()

	token, _, err := forger.Open(uuid.New(), uuid.New(), now)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = svc.Verify(token, now.Add(time.Hour))
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	svc := NewService("test-secret", 5*time.Minute)
	now := time.Now()

	claims := windowClaims{
		ClassID:   uuid.New(),
		TeacherID: uuid.New(),
		Nonce:     "abc",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(token, now); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewService("test-secret", 5*time.Minute)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token, time.Now()); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q): err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestNoncesAreUnique(t *testing.T) {
	svc := NewService("test-secret", 5*time.Minute)
	now := time.Now()
	teacherID, classID := uuid.New(), uuid.New()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		_, win, err := svc.Open(teacherID, classID, now)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if len(win.Nonce) != 32 {
			t.Fatalf("nonce %q has %d hex chars, want 32", win.Nonce, len(win.Nonce))
		}
		if seen[win.Nonce] {
			t.Fatalf("nonce %q repeated", win.Nonce)
		}
		seen[win.Nonce] = true
	}
}

func TestDefaultWindow(t *testing.T) {
	if got := NewService("s", 0).Window(); got != 5*time.Minute {
		t.Errorf("Window() = %v, want 5m", got)
	}
	if got := NewService("s", -time.Second).Window(); got != 5*time.Minute {
		t.Errorf("Window() = %v, want 5m", got)
	}
}
