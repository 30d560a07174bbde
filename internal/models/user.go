package models

import (
	"time"

	"gorm.io/gorm"
)

// Storage limit sentinels for User.StorageLimit
const (
	StorageLimitDefault   int64 = 0
	StorageLimitUnlimited int64 = -1
)

// User represents an account owning a storage root
type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;size:100;not null" json:"username"`
	Password     string         `gorm:"size:255" json:"-"` // bcrypt hash
	Email        string         `gorm:"size:255" json:"email"`
	Nickname     string         `gorm:"size:100" json:"nickname"`
	Role         string         `gorm:"size:50;default:user" json:"role"` // admin, user
	IsActive     bool           `gorm:"default:true" json:"is_active"`
	StorageLimit int64          `gorm:"default:0" json:"storage_limit"` // bytes; 0 = configured default, -1 = unlimited
	MFAEnabled   bool           `gorm:"column:mfa_enabled;default:false" json:"mfa_enabled"`
	MFASecret    string         `gorm:"column:mfa_secret;size:64" json:"-"` // base32 TOTP secret, set at enrollment
	LastLogin    *time.Time     `json:"last_login"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "users" }

func (u *User) IsAdmin() bool { return u.Role == "admin" }
