package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gmartell/paycore/pkg/db/models"
	"github.com/gmartell/paycore/pkg/enums"
)

// ErrNotFound is returned when a transaction id has no record.
var ErrNotFound = errors.New("transaction not found")

// Repository manages persistence for transactions and their events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTransaction(ctx context.Context, record *models.Transaction) error
	UpdateTransaction(ctx context.Context, record *models.Transaction) error
	CreateEvent(ctx context.Context, event *models.TransactionEvent) error
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error)
	ListByOrderID(ctx context.Context, orderID string) ([]models.Transaction, error)
	ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error)
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

func (r *repository) CreateTransaction(ctx context.Context, record *models.Transaction) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) UpdateTransaction(ctx context.Context, record *models.Transaction) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *repository) CreateEvent(ctx context.Context, event *models.TransactionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var record models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	var events []models.TransactionEvent
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("seq ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID string) ([]models.Transaction, error) {
	var records []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListRefunds(ctx context.Context, paymentID uuid.UUID) ([]models.Transaction, error) {
	var records []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("payment_id = ? AND kind = ?", paymentID, enums.TransactionKindRefund).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
