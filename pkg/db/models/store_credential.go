package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StoreCredential holds a storefront's processor OAuth grant. Tokens are
// sealed with pkg/security before they reach this row.
type StoreCredential struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	StoreKey           string          `gorm:"column:store_key;not null;uniqueIndex"`
	CollectorID        string          `gorm:"column:collector_id;not null"`
	SealedAccessToken  string          `gorm:"column:sealed_access_token;not null"`
	SealedRefreshToken string          `gorm:"column:sealed_refresh_token;not null"`
	TokenType          string          `gorm:"column:token_type;not null;default:'bearer'"`
	ExpiresAt          time.Time       `gorm:"column:expires_at;not null"`
	CommissionRate     decimal.Decimal `gorm:"column:commission_rate;type:numeric(6,4);not null"`
	Revoked            bool            `gorm:"column:revoked;not null;default:false"`
	LastRefreshedAt    *time.Time      `gorm:"column:last_refreshed_at"`
	LastRefreshError   *string         `gorm:"column:last_refresh_error"`
	Version            int             `gorm:"column:version;not null;default:1"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *StoreCredential) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
