package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
)

// Repository persists fulfillment claims and their outcomes.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to fulfillment operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// LockStorePayment serializes claims for one (transaction, storefront) pair.
func (r *Repository) LockStorePayment(ctx context.Context, transactionID uint64, storeKey string) (*models.StorePayment, error) {
	query := r.db.WithContext(ctx)
	if r.db.Dialector != nil && r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var payment models.StorePayment
	if err := query.Where("transaction_id = ? AND store_key = ?", transactionID, storeKey).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindActive returns the newest non-cancelled record for the pair.
func (r *Repository) FindActive(ctx context.Context, transactionID uint64, storeKey string) (*models.FulfillmentOrder, error) {
	var order models.FulfillmentOrder
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND store_key = ? AND status <> ?", transactionID, storeKey, enums.FulfillmentStatusCancelled).
		Order("created_at DESC").
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) Create(ctx context.Context, order *models.FulfillmentOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// Update applies updates only while the record still carries status from.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, from enums.FulfillmentStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.FulfillmentOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetStoreOrderID stamps the storefront order id on the store payment.
func (r *Repository) SetStoreOrderID(ctx context.Context, paymentID uuid.UUID, orderID string) error {
	return r.db.WithContext(ctx).
		Model(&models.StorePayment{}).
		Where("id = ?", paymentID).
		Update("store_order_id", orderID).Error
}

// ListFailed returns failed handoffs awaiting a replay, oldest first.
func (r *Repository) ListFailed(ctx context.Context, limit int) ([]models.FulfillmentOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.FulfillmentOrder
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.FulfillmentStatusFailed).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Orphan is an approved store payment whose handoff never completed.
type Orphan struct {
	TransactionID uint64
	StoreKey      string
}

// ListOrphans finds approved payments resolved before settledBefore that have
// no fulfillment record, or only a pending claim taken before claimedBefore.
// Failed records are left for operators.
func (r *Repository) ListOrphans(ctx context.Context, settledBefore, claimedBefore time.Time, limit int) ([]Orphan, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []Orphan
	err := r.db.WithContext(ctx).
		Table("store_payments AS sp").
		Select("sp.transaction_id, sp.store_key").
		Joins("LEFT JOIN fulfillment_orders AS fo ON fo.transaction_id = sp.transaction_id AND fo.store_key = sp.store_key AND fo.status <> ?", enums.FulfillmentStatusCancelled).
		Where("sp.status = ? AND sp.resolved_at < ?", enums.StorePaymentStatusApproved, settledBefore).
		Where("fo.id IS NULL OR (fo.status = ? AND fo.claimed_at < ?)", enums.FulfillmentStatusPending, claimedBefore).
		Order("sp.resolved_at ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
