package authbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/api/idtoken"
)

// ErrInvalidGoogleToken reports an ID token that failed validation.
var ErrInvalidGoogleToken = errors.New("authbridge: invalid google id token")

// GoogleProfile is what sign-in needs from a verified Google ID token.
type GoogleProfile struct {
	Subject  string
	Email    string
	Name     string
	Picture  string
	Verified bool
}

// GoogleVerifier validates Google ID tokens for one OAuth client id.
type GoogleVerifier struct {
	audience  string
	validator *idtoken.Validator
}

// NewGoogleVerifier builds a verifier for clientID.
func NewGoogleVerifier(ctx context.Context, clientID string) (*GoogleVerifier, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: google client id is required", ErrInvalidConfig)
	}
	validator, err := idtoken.NewValidator(ctx)
	if err != nil {
		return nil, fmt.Errorf("google validator: %w", err)
	}
	return &GoogleVerifier{audience: clientID, validator: validator}, nil
}

// Verify checks the token signature and audience and extracts the profile.
func (verifier *GoogleVerifier) Verify(ctx context.Context, rawToken string) (GoogleProfile, error) {
	payload, err := verifier.validator.Validate(ctx, rawToken, verifier.audience)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("%w: %v", ErrInvalidGoogleToken, err)
	}
	profile := GoogleProfile{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok {
		profile.Verified = verified
	}
	if profile.Email == "" {
		return GoogleProfile{}, fmt.Errorf("%w: email claim missing", ErrInvalidGoogleToken)
	}
	return profile, nil
}

func claimString(claims map[string]any, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return value
}
