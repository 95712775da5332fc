package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// InsertResult tells an insert that went through apart from one that hit a
// uniqueness constraint. Failures of the store itself come back as errors.
type InsertResult int

const (
	Inserted InsertResult = iota
	Conflict
)

func (r InsertResult) String() string {
	if r == Conflict {
		return "conflict"
	}
	return "inserted"
}

// RiskStatus is the derived classification of a seller.
type RiskStatus string

const (
	RiskNewUser      RiskStatus = "new_user"
	RiskVerifiedSafe RiskStatus = "verified_safe"
	RiskCaution      RiskStatus = "caution"
	RiskHighRisk     RiskStatus = "high_risk"
	RiskBlacklisted  RiskStatus = "blacklisted"
)

type Seller struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	City         string     `json:"city,omitempty"`
	Description  string     `json:"description,omitempty"`
	OwnerID      int64      `json:"owner_id,omitempty"` // 0 when no Telegram account is bound
	AvgRating    float64    `json:"avg_rating"`
	RatingCount  int        `json:"rating_count"`
	ReportsCount int        `json:"reports_count"`
	RiskStatus   RiskStatus `json:"risk_status"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Scores holds the four per-criterion marks of a rating, each in [1,5].
type Scores struct {
	Quality       int `json:"quality"`
	Delivery      int `json:"delivery"`
	Communication int `json:"communication"`
	Safety        int `json:"safety"`
}

type Rating struct {
	ID         int64     `json:"id"`
	SellerID   int64     `json:"seller_id"`
	ReviewerID int64     `json:"reviewer_id"`
	Scores     Scores    `json:"scores"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
}

type Report struct {
	ID          int64     `json:"id"`
	SellerID    int64     `json:"seller_id"`
	ReporterID  int64     `json:"reporter_id"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type LegitCheck struct {
	ID          int64      `json:"id"`
	SellerID    int64      `json:"seller_id"`
	BuyerID     int64      `json:"buyer_id"`
	RatingID    int64      `json:"rating_id"`
	Confirmed   bool       `json:"confirmed"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Aggregate is the derived part of a seller row.
type Aggregate struct {
	AvgRating    float64
	RatingCount  int
	ReportsCount int
	RiskStatus   RiskStatus
}

// Store is the persistence boundary of the bot.
// Implementations must be safe for concurrent use.
type Store interface {
	Ping(ctx context.Context) error

	GetSeller(ctx context.Context, id int64) (Seller, error)
	GetSellerByUsername(ctx context.Context, username string) (Seller, error)
	// CreateSeller inserts a new seller; an existing username yields Conflict.
	CreateSeller(ctx context.Context, s Seller) (Seller, InsertResult, error)
	// GetOrCreateSeller returns the seller with the given username, creating a
	// bare record when there is none.
	GetOrCreateSeller(ctx context.Context, username string) (Seller, error)
	// BindOwner attaches a Telegram identity to a seller. It yields Conflict when
	// the seller is already bound to a different identity.
	BindOwner(ctx context.Context, sellerID, ownerID int64) (InsertResult, error)

	GetRating(ctx context.Context, id int64) (Rating, error)
	HasRating(ctx context.Context, sellerID, reviewerID int64) (bool, error)

	// InSellerTx runs fn with the seller exclusively held: concurrent calls for
	// the same seller are serialised, and everything fn wrote is discarded if
	// it returns an error.
	InSellerTx(ctx context.Context, sellerID int64, fn func(tx SellerTx) error) error

	InsertLegitCheck(ctx context.Context, lc LegitCheck) (LegitCheck, InsertResult, error)
	GetLegitCheckByRating(ctx context.Context, ratingID int64) (LegitCheck, error)
	// ConfirmLegitCheck flips a pending check to confirmed. It reports false
	// when the check was already confirmed.
	ConfirmLegitCheck(ctx context.Context, ratingID int64, at time.Time) (bool, error)
	// DeletePendingLegitCheck withdraws an unconfirmed check so it can be
	// issued again. It reports false when there was nothing to withdraw.
	DeletePendingLegitCheck(ctx context.Context, ratingID int64) (bool, error)
	// DeleteExpiredLegitChecks removes pending checks created before the cutoff.
	DeleteExpiredLegitChecks(ctx context.Context, before time.Time) (int, error)
}

// SellerTx is the view of the store inside InSellerTx.
type SellerTx interface {
	Seller(ctx context.Context) (Seller, error)
	InsertRating(ctx context.Context, r Rating) (Rating, InsertResult, error)
	InsertReport(ctx context.Context, r Report) (Report, InsertResult, error)
	ListRatings(ctx context.Context) ([]Rating, error)
	// IncrementReports bumps the reports counter and returns the new value.
	IncrementReports(ctx context.Context) (int, error)
	UpdateAggregate(ctx context.Context, agg Aggregate) error
}
