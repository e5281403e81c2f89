package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// CreditAccount holds the running balance of one user.
type CreditAccount struct {
	UserUUID  string    `gorm:"primaryKey;size:64"`
	Balance   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CreditAccount) TableName() string { return "credit_accounts" }

// CreditEntry mirrors the credit_history table.
type CreditEntry struct {
	ID           int64          `gorm:"primaryKey;autoIncrement"`
	UserUUID     string         `gorm:"size:64;not null;uniqueIndex:credit_history_user_business_no_key,priority:1;index:idx_credit_history_user_created,priority:1"`
	Delta        int64          `gorm:"not null"`
	BalanceAfter int64          `gorm:"not null"`
	BusinessType string         `gorm:"size:32;not null"`
	BusinessNo   string         `gorm:"size:191;not null;uniqueIndex:credit_history_user_business_no_key,priority:2"`
	Metadata     datatypes.JSON `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_credit_history_user_created,priority:2"`
}

func (CreditEntry) TableName() string { return "credit_history" }

// UserRecord mirrors the users table.
type UserRecord struct {
	UUID           string    `gorm:"primaryKey;size:64"`
	Email          string    `gorm:"size:255;not null;uniqueIndex:users_email_provider_key,priority:1"`
	Nickname       string    `gorm:"size:255"`
	AvatarURL      string    `gorm:"size:1024"`
	Locale         string    `gorm:"size:16"`
	SigninType     string    `gorm:"size:32"`
	SigninProvider string    `gorm:"size:32;not null;uniqueIndex:users_email_provider_key,priority:2"`
	SigninOpenID   string    `gorm:"size:255"`
	SigninIP       string    `gorm:"size:64"`
	InviteCode     string    `gorm:"size:32;uniqueIndex:users_invite_code_key"`
	InvitedBy      string    `gorm:"size:64"`
	IsAffiliate    bool      `gorm:"not null;default:false"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (UserRecord) TableName() string { return "users" }

// OrderRecord mirrors the orders table.
type OrderRecord struct {
	OrderNo     string     `gorm:"primaryKey;size:64"`
	UserUUID    string     `gorm:"size:64;not null;index:idx_orders_user_created,priority:1"`
	AmountCents int64      `gorm:"not null"`
	Currency    string     `gorm:"size:8;not null"`
	Status      string     `gorm:"size:16;not null;index:idx_orders_status_created,priority:1"`
	OrderType   string     `gorm:"size:16;not null"`
	PayType     string     `gorm:"size:32"`
	PayTradeNo  string     `gorm:"size:128"`
	PlanCode    string     `gorm:"size:64"`
	GiftPoints  int64      `gorm:"not null;default:0"`
	Days        int        `gorm:"not null;default:0"`
	Description string     `gorm:"size:512"`
	PaidAt      *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"not null;index:idx_orders_user_created,priority:2;index:idx_orders_status_created,priority:2"`
	UpdatedAt   time.Time  `gorm:"not null"`
}

func (OrderRecord) TableName() string { return "orders" }

// APIKeyRecord mirrors the apikeys table.
type APIKeyRecord struct {
	KeyHash   string    `gorm:"primaryKey;size:64"`
	Title     string    `gorm:"size:128"`
	UserUUID  string    `gorm:"size:64;not null;index"`
	Status    string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (APIKeyRecord) TableName() string { return "apikeys" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&CreditAccount{}, &CreditEntry{}, &UserRecord{}, &OrderRecord{}, &APIKeyRecord{}}
}
