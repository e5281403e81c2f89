package authbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated reports that no credential source produced an identity.
	ErrUnauthenticated = errors.New("authbridge: unauthenticated")
	// ErrLoginExpired reports a credential that was present but is no longer accepted.
	ErrLoginExpired = errors.New("authbridge: login expired")
	// ErrInvalidSession reports a session token that fails verification.
	ErrInvalidSession = errors.New("authbridge: invalid session")
	// ErrInvalidConfig reports unusable bridge settings.
	ErrInvalidConfig = errors.New("authbridge: invalid configuration")
)

// Source names where an identity came from.
type Source string

const (
	SourceSession   Source = "session"
	SourceHubCookie Source = "hub_cookie"
	SourceAPIKey    Source = "api_key"
	SourceHubHeader Source = "hub_header"
)

// Identity is the caller resolved for a request.
type Identity struct {
	UserUUID string `json:"uuid"`
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	Source   Source `json:"source"`
}

type sessionClaims struct {
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// SessionManager issues and verifies first-party HS256 session tokens.
type SessionManager struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
	now        func() time.Time
}

// NewSessionManager validates its inputs. A nil clock uses time.Now.
func NewSessionManager(signingKey []byte, issuer string, ttl time.Duration, now func() time.Time) (*SessionManager, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("%w: signing key is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, fmt.Errorf("%w: issuer is required", ErrInvalidConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrInvalidConfig)
	}
	if now == nil {
		now = time.Now
	}
	return &SessionManager{signingKey: signingKey, issuer: issuer, ttl: ttl, now: now}, nil
}

// TTL exposes the session lifetime for cookie max-age.
func (manager *SessionManager) TTL() time.Duration {
	return manager.ttl
}

// Issue signs a session for the identity.
func (manager *SessionManager) Issue(identity Identity) (string, time.Time, error) {
	if strings.TrimSpace(identity.UserUUID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidSession)
	}
	issuedAt := manager.now().UTC()
	expiresAt := issuedAt.Add(manager.ttl)
	claims := sessionClaims{
		Email:    identity.Email,
		Nickname: identity.Nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    manager.issuer,
			Subject:   identity.UserUUID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(manager.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies a session token. Expired tokens return ErrLoginExpired.
func (manager *SessionManager) Parse(token string) (Identity, error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(parsedToken *jwt.Token) (any, error) {
		return manager.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(manager.issuer),
		jwt.WithTimeFunc(manager.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: %v", ErrLoginExpired, err)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrInvalidSession
	}
	return Identity{
		UserUUID: claims.Subject,
		Email:    claims.Email,
		Nickname: claims.Nickname,
		Source:   SourceSession,
	}, nil
}
