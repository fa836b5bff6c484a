package credentials

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imc400/tuka-backend/pkg/db/models"
)

// Repository persists storefront OAuth grants.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to credential operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) FindByStoreKey(ctx context.Context, storeKey string) (*models.StoreCredential, error) {
	var cred models.StoreCredential
	if err := r.db.WithContext(ctx).Where("store_key = ?", storeKey).First(&cred).Error; err != nil {
		return nil, err
	}
	return &cred, nil
}

// Upsert stores a freshly connected grant. Reconnecting clears revocation and
// bumps the version; the commission rate of an existing row is kept.
func (r *Repository) Upsert(ctx context.Context, cred *models.StoreCredential) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "store_key"}},
			DoUpdates: clause.Assignments(map[string]any{
				"collector_id":         cred.CollectorID,
				"sealed_access_token":  cred.SealedAccessToken,
				"sealed_refresh_token": cred.SealedRefreshToken,
				"token_type":           cred.TokenType,
				"expires_at":           cred.ExpiresAt,
				"revoked":              false,
				"last_refreshed_at":    cred.LastRefreshedAt,
				"last_refresh_error":   nil,
				"version":              gorm.Expr("store_credentials.version + 1"),
				"updated_at":           time.Now().UTC(),
			}),
		}).
		Create(cred).Error
}

// ReplaceTokens swaps the token pair only if nobody else refreshed since version was read.
func (r *Repository) ReplaceTokens(ctx context.Context, id uuid.UUID, version int, updates map[string]any) (bool, error) {
	updates["version"] = gorm.Expr("version + 1")
	res := r.db.WithContext(ctx).
		Model(&models.StoreCredential{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordRefreshFailure keeps the stored pair and notes the failure.
func (r *Repository) RecordRefreshFailure(ctx context.Context, id uuid.UUID, message string, revoke bool) error {
	updates := map[string]any{"last_refresh_error": message}
	if revoke {
		updates["revoked"] = true
	}
	return r.db.WithContext(ctx).
		Model(&models.StoreCredential{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListExpiring returns live grants expiring at or before the cutoff.
func (r *Repository) ListExpiring(ctx context.Context, cutoff time.Time, limit int) ([]models.StoreCredential, error) {
	if limit <= 0 {
		limit = 200
	}
	var rows []models.StoreCredential
	err := r.db.WithContext(ctx).
		Where("revoked = ? AND expires_at <= ?", false, cutoff).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
