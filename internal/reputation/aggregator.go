package reputation

import (
	"context"
	"errors"
	"fmt"

	"legit-bot/internal/logging"
	"legit-bot/internal/storage"
)

var (
	ErrDuplicateReview = errors.New("reviewer already rated this seller")
	ErrDuplicateReport = errors.New("reporter already reported this seller")
	ErrSelfRating      = errors.New("seller cannot rate own account")
	ErrInvalidScores   = errors.New("scores must be within 1..5")
)

// Issuer starts a Legit Check for a freshly stored rating.
type Issuer interface {
	Issue(ctx context.Context, sellerID, ratingID, buyerID int64) error
}

// Aggregator records ratings and reports and keeps the seller aggregate in
// sync with them.
type Aggregator struct {
	store  storage.Store
	issuer Issuer
}

// New creates an Aggregator. issuer may be nil, in which case no Legit Check
// is started after a rating.
func New(store storage.Store, issuer Issuer) *Aggregator {
	return &Aggregator{store: store, issuer: issuer}
}

// SetIssuer wires the Legit Check coordinator after construction.
func (a *Aggregator) SetIssuer(issuer Issuer) { a.issuer = issuer }

// RecordRating stores a rating and recomputes the seller aggregate from all of
// the seller's ratings in the same transaction.
func (a *Aggregator) RecordRating(ctx context.Context, sellerID, reviewerID int64, scores storage.Scores, comment string) (storage.Rating, storage.Seller, error) {
	if !ValidScore(scores.Quality) || !ValidScore(scores.Delivery) ||
		!ValidScore(scores.Communication) || !ValidScore(scores.Safety) {
		return storage.Rating{}, storage.Seller{}, ErrInvalidScores
	}

	var (
		rating storage.Rating
		seller storage.Seller
	)
	err := a.store.InSellerTx(ctx, sellerID, func(tx storage.SellerTx) error {
		current, err := tx.Seller(ctx)
		if err != nil {
			return err
		}
		if current.OwnerID != 0 && current.OwnerID == reviewerID {
			return ErrSelfRating
		}

		inserted, res, err := tx.InsertRating(ctx, storage.Rating{ReviewerID: reviewerID, Scores: scores, Comment: comment})
		if err != nil {
			return err
		}
		if res == storage.Conflict {
			return ErrDuplicateReview
		}

		all, err := tx.ListRatings(ctx)
		if err != nil {
			return err
		}
		agg := storage.Aggregate{
			AvgRating:    Average(all),
			RatingCount:  len(all),
			ReportsCount: current.ReportsCount,
		}
		agg.RiskStatus = ClassifyRisk(agg.ReportsCount, agg.RatingCount, agg.AvgRating)
		if err := tx.UpdateAggregate(ctx, agg); err != nil {
			return err
		}

		rating = inserted
		seller = current
		seller.AvgRating, seller.RatingCount, seller.RiskStatus = agg.AvgRating, agg.RatingCount, agg.RiskStatus
		return nil
	})
	if err != nil {
		return storage.Rating{}, storage.Seller{}, fmt.Errorf("record rating: %w", err)
	}

	logging.Infow("rating recorded",
		"seller_id", seller.ID, "rating_id", rating.ID, "reviewer_id", reviewerID,
		"avg_rating", seller.AvgRating, "rating_count", seller.RatingCount, "risk_status", seller.RiskStatus)

	if a.issuer != nil && seller.OwnerID != 0 {
		if err := a.issuer.Issue(ctx, seller.ID, rating.ID, reviewerID); err != nil {
			logging.Warnf("legit check for rating %d not issued: %v", rating.ID, err)
		}
	}
	return rating, seller, nil
}

// RecordReport stores a report, bumps the reports counter and reclassifies
// the seller with the fresh count.
func (a *Aggregator) RecordReport(ctx context.Context, sellerID, reporterID int64, description string) (storage.Report, storage.Seller, error) {
	var (
		report storage.Report
		seller storage.Seller
	)
	err := a.store.InSellerTx(ctx, sellerID, func(tx storage.SellerTx) error {
		current, err := tx.Seller(ctx)
		if err != nil {
			return err
		}
		inserted, res, err := tx.InsertReport(ctx, storage.Report{ReporterID: reporterID, Description: description})
		if err != nil {
			return err
		}
		if res == storage.Conflict {
			return ErrDuplicateReport
		}
		reports, err := tx.IncrementReports(ctx)
		if err != nil {
			return err
		}
		agg := storage.Aggregate{
			AvgRating:    current.AvgRating,
			RatingCount:  current.RatingCount,
			ReportsCount: reports,
			RiskStatus:   ClassifyRisk(reports, current.RatingCount, current.AvgRating),
		}
		if err := tx.UpdateAggregate(ctx, agg); err != nil {
			return err
		}
		report = inserted
		seller = current
		seller.ReportsCount, seller.RiskStatus = agg.ReportsCount, agg.RiskStatus
		return nil
	})
	if err != nil {
		return storage.Report{}, storage.Seller{}, fmt.Errorf("record report: %w", err)
	}
	logging.Infow("report recorded",
		"seller_id", seller.ID, "report_id", report.ID, "reports_count", seller.ReportsCount, "risk_status", seller.RiskStatus)
	return report, seller, nil
}
