package ingest

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vietddude/noteably/internal/core/apperr"
	"github.com/vietddude/noteably/internal/core/domain"
	"github.com/vietddude/noteably/internal/infra/storage"
)

// QuotaGate enforces monthly subscription limits.
type QuotaGate struct {
	subs storage.SubscriptionRepository
	log  *slog.Logger
}

// NewQuotaGate creates a quota gate.
func NewQuotaGate(subs storage.SubscriptionRepository) *QuotaGate {
	return &QuotaGate{subs: subs, log: slog.Default().With("component", "quota")}
}

// Check returns a QuotaExceeded error if the upload would exceed the owner's
// limits. Owners without a subscription get the free tier. If limits cannot
// be read at all the upload is allowed.
func (q *QuotaGate) Check(ctx context.Context, ownerID string, minutes, sizeMB float64) error {
	sub, err := q.subs.Get(ctx, ownerID)
	switch {
	case errors.Is(err, storage.ErrSubscriptionNotFound):
		sub = domain.DefaultSubscription(ownerID)
	case err != nil:
		q.log.Warn("Could not check quota, allowing upload", "owner_id", ownerID, "error", err)
		return nil
	}

	if sub.UploadsThisMonth >= sub.MonthlyUploadLimit {
		return apperr.Newf(apperr.KindQuotaExceeded, "Monthly limit: %d uploads", sub.MonthlyUploadLimit)
	}
	if sub.MinutesUsedThisMonth+minutes > sub.MonthlyMinutesLimit {
		return apperr.Newf(apperr.KindQuotaExceeded, "Monthly limit: %g minutes", sub.MonthlyMinutesLimit)
	}
	if sizeMB > sub.MaxFileSizeMB {
		return apperr.Newf(apperr.KindQuotaExceeded, "File too large. Maximum size: %gMB", sub.MaxFileSizeMB).
			WithDetails(map[string]any{"max_size": sub.MaxFileSizeMB})
	}
	return nil
}

// RecordUsage counts one upload of the given duration against the owner.
func (q *QuotaGate) RecordUsage(ctx context.Context, ownerID string, minutes float64) error {
	return q.subs.IncrementUsage(ctx, ownerID, minutes)
}
