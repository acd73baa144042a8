package auth

import "time"

type User struct {
	ID           uint64    `gorm:"primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

// Share grants MemberID access to the data owned by OwnerID.
type Share struct {
	ID        uint64    `gorm:"primaryKey"`
	OwnerID   uint64    `gorm:"not null;uniqueIndex:uq_share_owner_member"`
	MemberID  uint64    `gorm:"not null;uniqueIndex:uq_share_owner_member;index"`
	Role      string    `gorm:"type:text;not null;default:'editor'"`
	Active    bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Share) TableName() string { return "account_shares" }
