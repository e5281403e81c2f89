package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
	ErrInviteCodeTaken      = errors.New("invite code already taken")
	ErrAPIKeyNotFound       = errors.New("api key not found")
	ErrInvalidUser          = errors.New("invalid user")
	ErrInvalidAPIKey        = errors.New("invalid api key")
	ErrInvalidServiceConfig = errors.New("invalid users service config")
)

// User is a signed-in account.
type User struct {
	UUID           string    `json:"uuid"`
	Email          string    `json:"email"`
	Nickname       string    `json:"nickname"`
	AvatarURL      string    `json:"avatar_url"`
	Locale         string    `json:"locale"`
	SigninType     string    `json:"signin_type"`
	SigninProvider string    `json:"signin_provider"`
	SigninOpenID   string    `json:"signin_openid"`
	SigninIP       string    `json:"signin_ip"`
	InviteCode     string    `json:"invite_code"`
	InvitedBy      string    `json:"invited_by"`
	IsAffiliate    bool      `json:"is_affiliate"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProfileUpdate carries the user-editable fields; empty values are left unchanged.
type ProfileUpdate struct {
	Nickname  string
	AvatarURL string
	Locale    string
}

// APIKey is a stored developer key. Only the hash of the raw key is kept.
type APIKey struct {
	KeyHash   string
	Title     string
	UserUUID  string
	Status    string
	CreatedAt time.Time
}

const (
	apiKeyStatusActive = "active"
	apiKeyPrefix       = "sk-"
)

// Store persists users and api keys.
type Store interface {
	FindByEmailProvider(ctx context.Context, email string, provider string) (User, error)
	FindByUUID(ctx context.Context, uuid string) (User, error)
	FindByInviteCode(ctx context.Context, inviteCode string) (User, error)
	Insert(ctx context.Context, user User) error
	UpdateProfile(ctx context.Context, uuid string, update ProfileUpdate) (User, error)
	InsertAPIKey(ctx context.Context, key APIKey) error
	FindAPIKeyByHash(ctx context.Context, keyHash string) (APIKey, error)
}
