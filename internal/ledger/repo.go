package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
)

// Repository manages persistence for transactions and their store payments.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, txn *models.Transaction) error
	FindByID(ctx context.Context, id uint64) (*models.Transaction, error)
	LockByID(ctx context.Context, id uint64) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, id uint64, from enums.TransactionStatus, updates map[string]any) (bool, error)
	CountSettled(ctx context.Context, id uint64) (completed int, failed int, err error)

	ListStorePayments(ctx context.Context, transactionID uint64) ([]models.StorePayment, error)
	FindStorePayment(ctx context.Context, transactionID uint64, storeKey string) (*models.StorePayment, error)
	CreateStorePayment(ctx context.Context, payment *models.StorePayment) error
	UpdateStorePayment(ctx context.Context, id uuid.UUID, from enums.StorePaymentStatus, updates map[string]any) (bool, error)
	ClaimAttempt(ctx context.Context, id uuid.UUID, attempt int, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Omit("StorePayments").Create(txn).Error
}

func (r *repository) FindByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Preload("StorePayments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC").Order("store_key ASC") }).
		First(&txn, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// LockByID reads the row with a row lock on Postgres. Callers must be inside a transaction.
func (r *repository) LockByID(ctx context.Context, id uint64) (*models.Transaction, error) {
	query := r.db.WithContext(ctx)
	if isPostgres(r.db) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var txn models.Transaction
	if err := query.First(&txn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// UpdateStatus applies updates only while the row still carries status from.
func (r *repository) UpdateStatus(ctx context.Context, id uint64, from enums.TransactionStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CountSettled(ctx context.Context, id uint64) (int, int, error) {
	type row struct {
		Status enums.StorePaymentStatus
		Total  int
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.StorePayment{}).
		Select("status, COUNT(*) AS total").
		Where("transaction_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	completed, failed := 0, 0
	for _, rw := range rows {
		switch {
		case rw.Status == enums.StorePaymentStatusApproved:
			completed += rw.Total
		case rw.Status.IsFailure():
			failed += rw.Total
		}
	}
	return completed, failed, nil
}

func (r *repository) ListStorePayments(ctx context.Context, transactionID uint64) ([]models.StorePayment, error) {
	var rows []models.StorePayment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at ASC").
		Order("store_key ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindStorePayment(ctx context.Context, transactionID uint64, storeKey string) (*models.StorePayment, error) {
	var payment models.StorePayment
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND store_key = ?", transactionID, storeKey).
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) CreateStorePayment(ctx context.Context, payment *models.StorePayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// UpdateStorePayment is a compare-and-set on the payment status.
func (r *repository) UpdateStorePayment(ctx context.Context, id uuid.UUID, from enums.StorePaymentStatus, updates map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StorePayment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimAttempt bumps the intent attempt counter of a pending payment that has
// no intent yet. Only the caller that wins the claim may contact the processor.
func (r *repository) ClaimAttempt(ctx context.Context, id uuid.UUID, attempt int, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["attempt"] = attempt + 1
	res := r.db.WithContext(ctx).
		Model(&models.StorePayment{}).
		Where("id = ? AND attempt = ? AND status = ? AND intent_id IS NULL", id, attempt, enums.StorePaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func isPostgres(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres"
}
