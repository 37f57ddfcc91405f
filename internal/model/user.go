package model

import (
	"time"
)

type User struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	Provider         *string   `gorm:"size:50;uniqueIndex:idx_users_provider" json:"provider,omitempty"`
	ProviderID       *string   `gorm:"column:provider_id;size:191;uniqueIndex:idx_users_provider" json:"provider_id,omitempty"`
	Email            *string   `gorm:"size:100;index" json:"email,omitempty"`
	PasswordHash     *string   `gorm:"size:255" json:"-"`
	Name             string    `gorm:"size:100" json:"name"`
	Username         string    `gorm:"size:100" json:"username"`
	AvatarURL        string    `gorm:"size:500" json:"avatar_url"`
	Bio              string    `gorm:"type:text" json:"bio"`
	Credits          int       `gorm:"not null;default:0" json:"credits"`
	StripeCustomerID *string   `gorm:"size:100;uniqueIndex" json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
