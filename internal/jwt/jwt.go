package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"
)

// Verification failures collapse into these two conditions; callers
// never learn more than "bad token" vs "expired token".
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Session is the verified content of a session token.
type Session struct {
	SubjectID int64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service signs and verifies session tokens with a shared secret.
type Service struct {
	secret []byte
	ttl    time.Duration
}

// NewService constructs a token service. The secret must be non-empty;
// the TTL comes from configuration.
func NewService(secret string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt: signing secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("jwt: token ttl must be positive")
	}
	return &Service{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue produces a signed token binding the subject ID and issue time.
func (s *Service) Issue(subjectID int64) (string, error) {
	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: s.secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	claims := gojwt.Claims{
		Subject:  strconv.FormatInt(subjectID, 10),
		IssuedAt: gojwt.NewNumericDate(now),
		Expiry:   gojwt.NewNumericDate(now.Add(s.ttl)),
	}

	token, err := gojwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return token, nil
}

// Verify checks the signature and validity window and returns the
// session content.
func (s *Service) Verify(token string) (Session, error) {
	parsed, err := gojwt.ParseSigned(token, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return Session{}, ErrInvalidToken
	}

	var claims gojwt.Claims
	if err := parsed.Claims(s.secret, &claims); err != nil {
		return Session{}, ErrInvalidToken
	}

	if err := claims.ValidateWithLeeway(gojwt.Expected{Time: time.Now().UTC()}, 0); err != nil {
		if errors.Is(err, gojwt.ErrExpired) {
			return Session{}, ErrExpiredToken
		}
		return Session{}, ErrInvalidToken
	}

	subjectID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || claims.IssuedAt == nil {
		return Session{}, ErrInvalidToken
	}

	sess := Session{SubjectID: subjectID, IssuedAt: claims.IssuedAt.Time()}
	if claims.Expiry != nil {
		sess.ExpiresAt = claims.Expiry.Time()
	}
	return sess, nil
}
