package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

type subscriptionRow struct {
	OwnerID              string  `db:"owner_id"`
	Tier                 string  `db:"tier"`
	MonthlyUploadLimit   int     `db:"monthly_upload_limit"`
	MonthlyMinutesLimit  float64 `db:"monthly_minutes_limit"`
	MaxFileSizeMB        float64 `db:"max_file_size_mb"`
	UploadsThisMonth     int     `db:"uploads_this_month"`
	MinutesUsedThisMonth float64 `db:"minutes_used_this_month"`
}

// SubscriptionRepo implements storage.SubscriptionRepository using PostgreSQL.
type SubscriptionRepo struct {
	db *DB
}

// NewSubscriptionRepo creates a new PostgreSQL subscription repository.
func NewSubscriptionRepo(db *DB) *SubscriptionRepo {
	return &SubscriptionRepo{db: db}
}

// Get retrieves an owner's subscription.
func (r *SubscriptionRepo) Get(ctx context.Context, ownerID string) (*domain.Subscription, error) {
	var row subscriptionRow
	err := r.db.GetContext(ctx, &row, `
		SELECT owner_id, tier, monthly_upload_limit, monthly_minutes_limit, max_file_size_mb,
			uploads_this_month, minutes_used_this_month
		FROM user_subscriptions WHERE owner_id = $1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, classify(err, "get subscription")
	}
	return &domain.Subscription{
		OwnerID:              row.OwnerID,
		Tier:                 row.Tier,
		MonthlyUploadLimit:   row.MonthlyUploadLimit,
		MonthlyMinutesLimit:  row.MonthlyMinutesLimit,
		MaxFileSizeMB:        row.MaxFileSizeMB,
		UploadsThisMonth:     row.UploadsThisMonth,
		MinutesUsedThisMonth: row.MinutesUsedThisMonth,
	}, nil
}

// IncrementUsage records one upload of the given length.
func (r *SubscriptionRepo) IncrementUsage(ctx context.Context, ownerID string, minutes float64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_subscriptions (owner_id, monthly_upload_limit, monthly_minutes_limit,
			max_file_size_mb, uploads_this_month, minutes_used_this_month, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			uploads_this_month = user_subscriptions.uploads_this_month + 1,
			minutes_used_this_month = user_subscriptions.minutes_used_this_month + EXCLUDED.minutes_used_this_month,
			updated_at = NOW()
	`, ownerID, domain.DefaultMonthlyUploadLimit, domain.DefaultMonthlyMinutesLimit, domain.DefaultMaxFileSizeMB, minutes)
	if err != nil {
		return classify(err, "increment usage")
	}
	return nil
}
