package authbridge

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/pixmind/internal/aihub"
	"github.com/MarkoPoloResearchLab/pixmind/internal/authevents"
	"go.uber.org/zap"
)

const (
	CookieHubToken     = "aiHubToken"
	CookieHubTokenFull = "aiHubToken_full"
	CookieHubData      = "aiHubData"
	CookieUserInfo     = "userInfo"
	CookieUserPhone    = "userPhone"

	bearerPrefix = "Bearer "
	apiKeyPrefix = "sk-"
)

// CredentialJar reads and wipes client-held credentials.
type CredentialJar interface {
	Get(name string) (string, bool)
	Clear(name string)
}

// HubClient resolves a legacy hub token.
type HubClient interface {
	UserInfo(ctx context.Context, token string, locale string) (aihub.UserInfo, error)
}

// APIKeyResolver maps an API key to a user uuid.
type APIKeyResolver interface {
	ResolveAPIKey(ctx context.Context, rawKey string) (string, error)
}

// Resolver reconciles the credential sources in priority order.
type Resolver struct {
	sessions      *SessionManager
	sessionCookie string
	hub           HubClient
	apiKeys       APIKeyResolver
	bus           *authevents.Bus
	logger        *zap.Logger
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithHubClient enables the hub cookie and hub header sources.
func WithHubClient(hub HubClient) ResolverOption {
	return func(resolver *Resolver) {
		resolver.hub = hub
	}
}

// WithAPIKeys enables sk- keys in the Authorization header.
func WithAPIKeys(apiKeys APIKeyResolver) ResolverOption {
	return func(resolver *Resolver) {
		resolver.apiKeys = apiKeys
	}
}

// WithLogger sets the resolver logger.
func WithLogger(logger *zap.Logger) ResolverOption {
	return func(resolver *Resolver) {
		if logger != nil {
			resolver.logger = logger
		}
	}
}

// NewResolver builds a Resolver around the session manager and event bus.
func NewResolver(sessions *SessionManager, sessionCookie string, bus *authevents.Bus, options ...ResolverOption) (*Resolver, error) {
	if sessions == nil || bus == nil || strings.TrimSpace(sessionCookie) == "" {
		return nil, ErrInvalidConfig
	}
	resolver := &Resolver{
		sessions:      sessions,
		sessionCookie: sessionCookie,
		bus:           bus,
		logger:        zap.NewNop(),
	}
	for _, option := range options {
		if option != nil {
			option(resolver)
		}
	}
	return resolver, nil
}

// SessionCookie names the first-party session cookie.
func (resolver *Resolver) SessionCookie() string {
	return resolver.sessionCookie
}

// Sessions exposes the session manager for sign-in handlers.
func (resolver *Resolver) Sessions() *SessionManager {
	return resolver.sessions
}

// CredentialNames lists every client-held credential wiped on expiry.
func (resolver *Resolver) CredentialNames() []string {
	return []string{resolver.sessionCookie, CookieHubToken, CookieHubTokenFull, CookieHubData, CookieUserInfo, CookieUserPhone}
}

// Resolve tries the session cookie, then the hub cookie, then the Authorization header.
// The first source that yields an identity wins.
func (resolver *Resolver) Resolve(ctx context.Context, jar CredentialJar, authorization string, locale string) (Identity, error) {
	if token, ok := jar.Get(resolver.sessionCookie); ok && token != "" {
		identity, err := resolver.sessions.Parse(token)
		switch {
		case err == nil:
			return identity, nil
		case errors.Is(err, ErrLoginExpired):
			return Identity{}, resolver.expire(jar, authevents.Event{Type: authevents.EventLoginExpired, Message: "session expired"})
		default:
			resolver.logger.Debug("session cookie rejected", zap.Error(err))
		}
	}

	if token, ok := jar.Get(CookieHubToken); ok && token != "" && resolver.hub != nil {
		identity, err := resolver.resolveHubToken(ctx, jar, token, locale, SourceHubCookie)
		if err == nil || errors.Is(err, ErrLoginExpired) {
			return identity, err
		}
	}

	headerToken := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authorization), bearerPrefix))
	if headerToken != "" {
		if strings.HasPrefix(headerToken, apiKeyPrefix) {
			if resolver.apiKeys != nil {
				userUUID, err := resolver.apiKeys.ResolveAPIKey(ctx, headerToken)
				if err == nil && userUUID != "" {
					return Identity{UserUUID: userUUID, Source: SourceAPIKey}, nil
				}
				resolver.logger.Debug("api key rejected", zap.Error(err))
			}
		} else if resolver.hub != nil {
			identity, err := resolver.resolveHubToken(ctx, jar, headerToken, locale, SourceHubHeader)
			if err == nil || errors.Is(err, ErrLoginExpired) {
				return identity, err
			}
		}
	}

	return Identity{}, ErrUnauthenticated
}

func (resolver *Resolver) resolveHubToken(ctx context.Context, jar CredentialJar, token string, locale string, source Source) (Identity, error) {
	info, err := resolver.hub.UserInfo(ctx, token, locale)
	if err != nil {
		var expired *aihub.ExpiredError
		if errors.As(err, &expired) {
			return Identity{}, resolver.expire(jar, expired.Event)
		}
		resolver.logger.Warn("hub token lookup failed", zap.String("source", string(source)), zap.Error(err))
		return Identity{}, err
	}
	return Identity{
		UserUUID: info.ID,
		Email:    info.Email,
		Nickname: info.Nickname,
		Source:   source,
	}, nil
}

// Expire wipes every credential from the jar and broadcasts the event.
func (resolver *Resolver) Expire(jar CredentialJar, event authevents.Event) {
	_ = resolver.expire(jar, event)
}

func (resolver *Resolver) expire(jar CredentialJar, event authevents.Event) error {
	for _, name := range resolver.CredentialNames() {
		jar.Clear(name)
	}
	resolver.bus.Emit(event)
	return &ExpiredError{Event: event}
}

// ExpiredError carries the event raised when credentials were wiped.
type ExpiredError struct {
	Event authevents.Event
}

func (err *ExpiredError) Error() string {
	return ErrLoginExpired.Error() + ": " + string(err.Event.Type)
}

func (err *ExpiredError) Unwrap() error {
	return ErrLoginExpired
}
