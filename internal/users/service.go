package users

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultWelcomeCredits  int64 = 10
	welcomeBusinessPrefix        = "new_user:"
	inviteBusinessPrefix         = "invite_reward:"
	inviteCodeLength             = 8
	maxInviteCodeAttempts        = 3
	apiKeyRandomBytes            = 24
)

// CreditGranter is the part of the credit service used on sign-up.
type CreditGranter interface {
	Grant(ctx context.Context, userUUID credits.UserUUID, amount credits.PositivePoints, businessType credits.BusinessType, businessNo credits.BusinessNo, metadata credits.MetadataJSON) (credits.Entry, error)
}

// Option configures a Service.
type Option func(*Service)

// WithWelcomeCredits overrides the sign-up bonus; zero disables it.
func WithWelcomeCredits(points int64) Option {
	return func(service *Service) {
		service.welcomeCredits = points
	}
}

// WithInviteReward grants the inviter points when an invited user signs up.
func WithInviteReward(points int64) Option {
	return func(service *Service) {
		service.inviteReward = points
	}
}

// WithLogger sets the logger used for non-fatal failures.
func WithLogger(logger *zap.Logger) Option {
	return func(service *Service) {
		if logger != nil {
			service.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(service *Service) {
		if now != nil {
			service.nowFn = now
		}
	}
}

// WithUUIDGenerator overrides uuid generation.
func WithUUIDGenerator(generate func() string) Option {
	return func(service *Service) {
		if generate != nil {
			service.newUUID = generate
		}
	}
}

// Service manages user records, sign-up bonuses and api keys.
type Service struct {
	store          Store
	granter        CreditGranter
	logger         *zap.Logger
	nowFn          func() time.Time
	newUUID        func() string
	welcomeCredits int64
	inviteReward   int64
}

// NewService wires a Service.
func NewService(store Store, granter CreditGranter, options ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if granter == nil {
		return nil, fmt.Errorf("%w: credit granter dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:          store,
		granter:        granter,
		logger:         zap.NewNop(),
		nowFn:          func() time.Time { return time.Now().UTC() },
		newUUID:        uuid.NewString,
		welcomeCredits: defaultWelcomeCredits,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Save returns the stored user for (email, provider), creating it on first sign-in.
// New users receive the welcome bonus; inviterCode links them to the inviting user.
func (service *Service) Save(ctx context.Context, user User, inviterCode string) (User, bool, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.SigninProvider = strings.TrimSpace(user.SigninProvider)
	if user.Email == "" || user.SigninProvider == "" {
		return User{}, false, fmt.Errorf("%w: email and provider are required", ErrInvalidUser)
	}

	existing, err := service.store.FindByEmailProvider(ctx, user.Email, user.SigninProvider)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, false, err
	}

	user.UUID = service.newUUID()
	user.CreatedAt = service.nowFn()
	user.InviteCode = service.inviteCodeFor(user.UUID)
	user.InvitedBy = ""
	if code := strings.TrimSpace(inviterCode); code != "" {
		inviter, inviterErr := service.store.FindByInviteCode(ctx, code)
		switch {
		case inviterErr == nil:
			user.InvitedBy = inviter.UUID
		case errors.Is(inviterErr, ErrUserNotFound):
			service.logger.Info("unknown invite code ignored", zap.String("invite_code", code))
		default:
			return User{}, false, inviterErr
		}
	}

	if err := service.insertWithFreshInviteCode(ctx, &user); err != nil {
		if errors.Is(err, ErrUserExists) {
			raced, findErr := service.store.FindByEmailProvider(ctx, user.Email, user.SigninProvider)
			if findErr != nil {
				return User{}, false, findErr
			}
			return raced, false, nil
		}
		return User{}, false, err
	}

	service.grantBonus(ctx, user.UUID, service.welcomeCredits, credits.BusinessNewUser, welcomeBusinessPrefix+user.UUID,
		fmt.Sprintf(`{"description":"Welcome bonus: %d free credits"}`, service.welcomeCredits))
	if user.InvitedBy != "" {
		service.grantBonus(ctx, user.InvitedBy, service.inviteReward, credits.BusinessInviteReward, inviteBusinessPrefix+user.UUID,
			fmt.Sprintf(`{"invitee":%q}`, user.UUID))
	}
	return user, true, nil
}

// Get returns a user by uuid.
func (service *Service) Get(ctx context.Context, userUUID string) (User, error) {
	if strings.TrimSpace(userUUID) == "" {
		return User{}, fmt.Errorf("%w: empty uuid", ErrInvalidUser)
	}
	return service.store.FindByUUID(ctx, strings.TrimSpace(userUUID))
}

// UpdateProfile changes nickname, avatar or locale.
func (service *Service) UpdateProfile(ctx context.Context, userUUID string, update ProfileUpdate) (User, error) {
	update.Nickname = strings.TrimSpace(update.Nickname)
	update.AvatarURL = strings.TrimSpace(update.AvatarURL)
	update.Locale = strings.TrimSpace(update.Locale)
	if update == (ProfileUpdate{}) {
		return service.Get(ctx, userUUID)
	}
	return service.store.UpdateProfile(ctx, userUUID, update)
}

// IssueAPIKey creates a new key and returns the raw value; it is not retrievable later.
func (service *Service) IssueAPIKey(ctx context.Context, userUUID string, title string) (string, error) {
	if strings.TrimSpace(userUUID) == "" {
		return "", fmt.Errorf("%w: empty uuid", ErrInvalidUser)
	}
	buffer := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	raw := apiKeyPrefix + hex.EncodeToString(buffer)
	key := APIKey{
		KeyHash:   HashAPIKey(raw),
		Title:     strings.TrimSpace(title),
		UserUUID:  userUUID,
		Status:    apiKeyStatusActive,
		CreatedAt: service.nowFn(),
	}
	if err := service.store.InsertAPIKey(ctx, key); err != nil {
		return "", err
	}
	return raw, nil
}

// ResolveAPIKey maps a raw "sk-" key to its owner.
func (service *Service) ResolveAPIKey(ctx context.Context, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, apiKeyPrefix) || len(trimmed) == len(apiKeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	key, err := service.store.FindAPIKeyByHash(ctx, HashAPIKey(trimmed))
	if err != nil {
		return "", err
	}
	if key.Status != apiKeyStatusActive {
		return "", ErrAPIKeyNotFound
	}
	return key.UserUUID, nil
}

// HashAPIKey returns the lookup hash stored for a raw key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (service *Service) grantBonus(ctx context.Context, userUUID string, points int64, businessType credits.BusinessType, businessNoRaw string, metadataRaw string) {
	if points <= 0 {
		return
	}
	owner, err := credits.NewUserUUID(userUUID)
	if err != nil {
		service.logger.Error("bonus skipped", zap.String("user_uuid", userUUID), zap.Error(err))
		return
	}
	amount, err := credits.NewPositivePoints(points)
	if err != nil {
		service.logger.Error("bonus skipped", zap.String("user_uuid", userUUID), zap.Error(err))
		return
	}
	businessNo, err := credits.NewBusinessNo(businessNoRaw)
	if err != nil {
		service.logger.Error("bonus skipped", zap.String("user_uuid", userUUID), zap.Error(err))
		return
	}
	metadata, err := credits.NewMetadataJSON(metadataRaw)
	if err != nil {
		service.logger.Error("bonus skipped", zap.String("user_uuid", userUUID), zap.Error(err))
		return
	}
	if _, err := service.granter.Grant(ctx, owner, amount, businessType, businessNo, metadata); err != nil && !credits.IsDuplicate(err) {
		service.logger.Error("bonus grant failed",
			zap.String("user_uuid", userUUID),
			zap.String("business_type", businessType.String()),
			zap.Error(err))
	}
}

// insertWithFreshInviteCode retries with a new uuid when the derived invite code collides.
func (service *Service) insertWithFreshInviteCode(ctx context.Context, user *User) error {
	var err error
	for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
		if attempt > 0 {
			user.UUID = service.newUUID()
			user.InviteCode = service.inviteCodeFor(user.UUID)
		}
		err = service.store.Insert(ctx, *user)
		if !errors.Is(err, ErrInviteCodeTaken) {
			return err
		}
		service.logger.Warn("invite code collision", zap.String("invite_code", user.InviteCode))
	}
	return err
}

func (service *Service) inviteCodeFor(userUUID string) string {
	compact := strings.ToUpper(strings.ReplaceAll(userUUID, "-", ""))
	if len(compact) > inviteCodeLength {
		return compact[:inviteCodeLength]
	}
	return compact
}
