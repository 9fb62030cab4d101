package postgres

import (
	"context"
	"errors"
	"time"

	domain "github.com/mtogo-platform/payment-service/internal/domain/payout"
	"github.com/mtogo-platform/payment-service/internal/observability"
	"github.com/shopspring/decimal"
	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Open connects to Postgres and migrates the payout_attempts table.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(pgdriver.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&attemptModel{}); err != nil {
		return nil, err
	}
	return db, nil
}

type attemptModel struct {
	ID                   string          `gorm:"primaryKey"`
	OrderID              string          `gorm:"index"`
	RestaurantAccountID  string
	AgentAccountID       string
	RestaurantPayout     decimal.Decimal `gorm:"type:numeric(12,2)"`
	AgentPayout          decimal.Decimal `gorm:"type:numeric(12,2)"`
	Status               string
	RestaurantTransferID string
	AgentTransferID      string
	ReversalID           string
	FailureReason        string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (attemptModel) TableName() string { return "payout_attempts" }

// AttemptRepository is the durable payout-attempt store, selected in
// deployments that set DATABASE_URL.
type AttemptRepository struct {
	db  *gorm.DB
	log observability.Logger
}

func NewAttemptRepository(db *gorm.DB, logger observability.Logger) *AttemptRepository {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &AttemptRepository{db: db, log: logger}
}

func (r *AttemptRepository) Insert(ctx context.Context, attempt *domain.Attempt) error {
	row := modelFromAttempt(attempt)
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *AttemptRepository) Update(ctx context.Context, attempt *domain.Attempt) error {
	row := modelFromAttempt(attempt)
	result := r.db.WithContext(ctx).
		Model(&attemptModel{}).
		Where("id = ?", attempt.ID).
		Updates(map[string]any{
			"status":                 row.Status,
			"restaurant_transfer_id": row.RestaurantTransferID,
			"agent_transfer_id":      row.AgentTransferID,
			"reversal_id":            row.ReversalID,
			"failure_reason":         row.FailureReason,
			"updated_at":             row.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrAttemptNotFound
	}
	return nil
}

func (r *AttemptRepository) Get(ctx context.Context, id string) (*domain.Attempt, error) {
	var row attemptModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAttemptNotFound
		}
		return nil, err
	}
	return row.toAttempt(), nil
}

func (r *AttemptRepository) FindByOrder(ctx context.Context, orderID string) ([]*domain.Attempt, error) {
	var rows []attemptModel
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at asc").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toAttempt())
	}
	return out, nil
}

func modelFromAttempt(a *domain.Attempt) attemptModel {
	return attemptModel{
		ID:                   a.ID,
		OrderID:              a.OrderID,
		RestaurantAccountID:  a.RestaurantAccountID,
		AgentAccountID:       a.AgentAccountID,
		RestaurantPayout:     a.RestaurantPayout,
		AgentPayout:          a.AgentPayout,
		Status:               string(a.Status),
		RestaurantTransferID: a.RestaurantTransferID,
		AgentTransferID:      a.AgentTransferID,
		ReversalID:           a.ReversalID,
		FailureReason:        a.FailureReason,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}

func (m attemptModel) toAttempt() *domain.Attempt {
	return &domain.Attempt{
		ID:                   m.ID,
		OrderID:              m.OrderID,
		RestaurantAccountID:  m.RestaurantAccountID,
		AgentAccountID:       m.AgentAccountID,
		RestaurantPayout:     m.RestaurantPayout,
		AgentPayout:          m.AgentPayout,
		Status:               domain.AttemptStatus(m.Status),
		RestaurantTransferID: m.RestaurantTransferID,
		AgentTransferID:      m.AgentTransferID,
		ReversalID:           m.ReversalID,
		FailureReason:        m.FailureReason,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}
