package models

import "time"

// BannedIP blocks an address until ExpiresAt; nil means permanent.
type BannedIP struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	IP        string     `gorm:"uniqueIndex;size:64;not null" json:"ip"`
	Reason    string     `gorm:"size:255" json:"reason"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (BannedIP) TableName() string { return "banned_ips" }

func (b *BannedIP) ActiveAt(now time.Time) bool {
	return b.ExpiresAt == nil || now.Before(*b.ExpiresAt)
}
