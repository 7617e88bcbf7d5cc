package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrInvalidToken covers malformed tokens and bad signatures.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrExpiredToken means the signature checked out but the window closed.
	ErrExpiredToken = errors.New("session token expired")
)

// Window is an open attendance window for one class. It exists only as the
// signed token held by clients; verifying the token reconstructs it.
type Window struct {
	ClassID   uuid.UUID
	TeacherID uuid.UUID
	OpenedAt  time.Time
	ExpiresAt time.Time
	Nonce     string
}

type windowClaims struct {
	ClassID   uuid.UUID `json:"class_id"`
	TeacherID uuid.UUID `json:"teacher_id"`
	Nonce     string    `json:"nonce"`
	jwt.RegisteredClaims
}

// Service mints and verifies attendance-window tokens. Tokens are
// self-contained HS256 JWTs; the service keeps no per-token state, so any
// instance can verify a window and a restart does not close it.
type Service struct {
	secret []byte
	window time.Duration
}

// NewService creates a token service for the given signing secret and
// window duration. A non-positive duration falls back to 5 minutes.
func NewService(secret string, window time.Duration) *Service {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Service{secret: []byte(secret), window: window}
}

// Window returns the configured window duration.
func (s *Service) Window() time.Duration { return s.window }

// Open mints a token for a window opened by teacherID on classID at now.
// Callers must have already verified class ownership. The nonce makes every
// token distinct even for the same class and second.
func (s *Service) Open(teacherID, classID uuid.UUID, now time.Time) (string, Window, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", Window{}, fmt.Errorf("generate nonce: %w", err)
	}
	w := Window{
		ClassID:   classID,
		TeacherID: teacherID,
		OpenedAt:  now,
		ExpiresAt: now.Add(s.window),
		Nonce:     nonce,
	}
	claims := windowClaims{
		ClassID:   w.ClassID,
		TeacherID: w.TeacherID,
		Nonce:     w.Nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(w.OpenedAt),
			ExpiresAt: jwt.NewNumericDate(w.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Window{}, fmt.Errorf("sign window token: %w", err)
	}
	return token, w, nil
}

// Verify checks the token signature and then its expiry against now,
// returning the reconstructed window. The signature is always checked
// first: a tampered token fails with ErrInvalidToken even when it is also
// past its deadline.
func (s *Service) Verify(token string, now time.Time) (Window, error) {
	claims := &windowClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Window{}, ErrExpiredToken
		}
		return Window{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.ClassID == uuid.Nil || claims.TeacherID == uuid.Nil || claims.Nonce == "" {
		return Window{}, ErrInvalidToken
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return Window{}, ErrInvalidToken
	}
	return Window{
		ClassID:   claims.ClassID,
		TeacherID: claims.TeacherID,
		OpenedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		Nonce:     claims.Nonce,
	}, nil
}

// newNonce draws 128 bits from crypto/rand, hex-encoded.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
