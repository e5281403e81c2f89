package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/pixmind/internal/users"
	"github.com/MarkoPoloResearchLab/pixmind/pkg/credits"
	"gorm.io/gorm"
)

const (
	errorSubjectUser   = "user"
	errorSubjectAPIKey = "apikey"
)

// UserStore implements users.Store.
type UserStore struct {
	db *gorm.DB
}

// NewUserStore returns a UserStore backed by gorm.DB.
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (store *UserStore) FindByEmailProvider(ctx context.Context, email string, provider string) (users.User, error) {
	return store.findOne(ctx, "email = ? AND signin_provider = ?", email, provider)
}

func (store *UserStore) FindByUUID(ctx context.Context, uuid string) (users.User, error) {
	return store.findOne(ctx, "uuid = ?", uuid)
}

func (store *UserStore) FindByInviteCode(ctx context.Context, inviteCode string) (users.User, error) {
	return store.findOne(ctx, "invite_code = ?", inviteCode)
}

func (store *UserStore) Insert(ctx context.Context, user users.User) error {
	row := UserRecord{
		UUID:           user.UUID,
		Email:          user.Email,
		Nickname:       user.Nickname,
		AvatarURL:      user.AvatarURL,
		Locale:         user.Locale,
		SigninType:     user.SigninType,
		SigninProvider: user.SigninProvider,
		SigninOpenID:   user.SigninOpenID,
		SigninIP:       user.SigninIP,
		InviteCode:     user.InviteCode,
		InvitedBy:      user.InvitedBy,
		IsAffiliate:    user.IsAffiliate,
		CreatedAt:      user.CreatedAt,
		UpdatedAt:      user.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintUserInviteCode) {
		return credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeDuplicate, users.ErrInviteCodeTaken)
	}
	if isUniqueViolation(err, "") {
		return credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeDuplicate, users.ErrUserExists)
	}
	if err != nil {
		return credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeInsert, err)
	}
	return nil
}

func (store *UserStore) UpdateProfile(ctx context.Context, uuid string, update users.ProfileUpdate) (users.User, error) {
	changes := map[string]any{"updated_at": time.Now().UTC()}
	if update.Nickname != "" {
		changes["nickname"] = update.Nickname
	}
	if update.AvatarURL != "" {
		changes["avatar_url"] = update.AvatarURL
	}
	if update.Locale != "" {
		changes["locale"] = update.Locale
	}
	result := store.db.WithContext(ctx).Model(&UserRecord{}).Where("uuid = ?", uuid).Updates(changes)
	if result.Error != nil {
		return users.User{}, credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return users.User{}, credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeUpdate, users.ErrUserNotFound)
	}
	return store.FindByUUID(ctx, uuid)
}

func (store *UserStore) InsertAPIKey(ctx context.Context, key users.APIKey) error {
	row := APIKeyRecord{
		KeyHash:   key.KeyHash,
		Title:     key.Title,
		UserUUID:  key.UserUUID,
		Status:    key.Status,
		CreatedAt: key.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return credits.WrapError(errorOperationStore, errorSubjectAPIKey, errorCodeInsert, err)
	}
	return nil
}

func (store *UserStore) FindAPIKeyByHash(ctx context.Context, keyHash string) (users.APIKey, error) {
	var row APIKeyRecord
	err := store.db.WithContext(ctx).Where("key_hash = ?", keyHash).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return users.APIKey{}, credits.WrapError(errorOperationStore, errorSubjectAPIKey, errorCodeGet, users.ErrAPIKeyNotFound)
		}
		return users.APIKey{}, credits.WrapError(errorOperationStore, errorSubjectAPIKey, errorCodeGet, err)
	}
	return users.APIKey{
		KeyHash:   row.KeyHash,
		Title:     row.Title,
		UserUUID:  row.UserUUID,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (store *UserStore) findOne(ctx context.Context, query string, args ...any) (users.User, error) {
	var row UserRecord
	err := store.db.WithContext(ctx).Where(query, args...).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return users.User{}, credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeGet, users.ErrUserNotFound)
		}
		return users.User{}, credits.WrapError(errorOperationStore, errorSubjectUser, errorCodeGet, err)
	}
	return users.User{
		UUID:           row.UUID,
		Email:          row.Email,
		Nickname:       row.Nickname,
		AvatarURL:      row.AvatarURL,
		Locale:         row.Locale,
		SigninType:     row.SigninType,
		SigninProvider: row.SigninProvider,
		SigninOpenID:   row.SigninOpenID,
		SigninIP:       row.SigninIP,
		InviteCode:     row.InviteCode,
		InvitedBy:      row.InvitedBy,
		IsAffiliate:    row.IsAffiliate,
		CreatedAt:      row.CreatedAt,
	}, nil
}
