package domain

// Subscription holds an owner's monthly limits and usage.
type Subscription struct {
	OwnerID              string  `json:"owner_id"`
	Tier                 string  `json:"tier"`
	MonthlyUploadLimit   int     `json:"monthly_upload_limit"`
	MonthlyMinutesLimit  float64 `json:"monthly_minutes_limit"`
	MaxFileSizeMB        float64 `json:"max_file_size_mb"`
	UploadsThisMonth     int     `json:"uploads_this_month"`
	MinutesUsedThisMonth float64 `json:"minutes_used_this_month"`
}

// Defaults for owners without a stored subscription.
const (
	DefaultTier                = "free"
	DefaultMonthlyUploadLimit  = 5
	DefaultMonthlyMinutesLimit = 30
	DefaultMaxFileSizeMB       = 100
)

// DefaultSubscription returns the free-tier subscription for owner.
func DefaultSubscription(owner string) *Subscription {
	return &Subscription{
		OwnerID:             owner,
		Tier:                DefaultTier,
		MonthlyUploadLimit:  DefaultMonthlyUploadLimit,
		MonthlyMinutesLimit: DefaultMonthlyMinutesLimit,
		MaxFileSizeMB:       DefaultMaxFileSizeMB,
	}
}

// UploadsRemaining is the number of uploads left this month.
func (s *Subscription) UploadsRemaining() int {
	return max(s.MonthlyUploadLimit-s.UploadsThisMonth, 0)
}

// MinutesRemaining is the number of media minutes left this month.
func (s *Subscription) MinutesRemaining() float64 {
	return max(s.MonthlyMinutesLimit-s.MinutesUsedThisMonth, 0)
}
