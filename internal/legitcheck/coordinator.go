// Package legitcheck runs the two-party confirmation in which a verified
// seller confirms that a rated transaction took place.
package legitcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"legit-bot/internal/logging"
	"legit-bot/internal/storage"
)

var ErrNoOwner = errors.New("seller has no bound account")

// Notifier delivers the two outbound messages of the handshake.
type Notifier interface {
	// RequestConfirmation asks the seller's owner to confirm the rating.
	RequestConfirmation(ctx context.Context, ownerID int64, seller storage.Seller, rating storage.Rating) error
	// NotifyBuyer tells the buyer the seller confirmed the transaction.
	NotifyBuyer(ctx context.Context, buyerID int64, seller storage.Seller) error
}

// Outcome is the result of a confirmation attempt.
type Outcome int

const (
	OutcomeConfirmed Outcome = iota
	OutcomeAlreadyConfirmed
	OutcomeExpired
	OutcomeNotFound
	OutcomeForbidden
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeAlreadyConfirmed:
		return "already_confirmed"
	case OutcomeExpired:
		return "expired"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeForbidden:
		return "forbidden"
	}
	return "unknown"
}

// Coordinator issues, confirms and expires Legit Checks.
type Coordinator struct {
	store    storage.Store
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
}

// New creates a Coordinator. Pending checks older than ttl can no longer be
// confirmed; ttl <= 0 keeps them forever.
func New(store storage.Store, notifier Notifier, ttl time.Duration) *Coordinator {
	return &Coordinator{
		store:    store,
		notifier: notifier,
		ttl:      ttl,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Issue records a pending check for the rating and prompts the seller's
// owner. A rating gets at most one delivered prompt; when delivery fails the
// check is withdrawn and the error returned.
func (c *Coordinator) Issue(ctx context.Context, sellerID, ratingID, buyerID int64) error {
	seller, err := c.store.GetSeller(ctx, sellerID)
	if err != nil {
		return err
	}
	if seller.OwnerID == 0 {
		return ErrNoOwner
	}
	rating, err := c.store.GetRating(ctx, ratingID)
	if err != nil {
		return err
	}
	_, res, err := c.store.InsertLegitCheck(ctx, storage.LegitCheck{
		SellerID:  sellerID,
		BuyerID:   buyerID,
		RatingID:  ratingID,
		CreatedAt: c.now(),
	})
	if err != nil {
		return fmt.Errorf("store legit check: %w", err)
	}
	if res == storage.Conflict {
		logging.Debugf("legit check for rating %d already issued", ratingID)
		return nil
	}
	if err := c.notifier.RequestConfirmation(ctx, seller.OwnerID, seller, rating); err != nil {
		// Withdraw the check so a later Issue prompts again.
		if _, derr := c.store.DeletePendingLegitCheck(context.WithoutCancel(ctx), ratingID); derr != nil {
			logging.Errorw("failed to withdraw unsent legit check", "rating_id", ratingID, "error", derr)
		}
		return fmt.Errorf("request confirmation: %w", err)
	}
	logging.Infow("legit check issued", "seller_id", sellerID, "rating_id", ratingID, "owner_id", seller.OwnerID)
	return nil
}

// Confirm resolves the check of ratingID on behalf of confirmerID, who must be
// the seller's owner. Repeated calls after a success are reported as
// OutcomeAlreadyConfirmed and notify nobody.
func (c *Coordinator) Confirm(ctx context.Context, ratingID, confirmerID int64) (Outcome, error) {
	rating, err := c.store.GetRating(ctx, ratingID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return OutcomeNotFound, err
	}
	seller, err := c.store.GetSeller(ctx, rating.SellerID)
	if err != nil {
		return OutcomeNotFound, err
	}
	if seller.OwnerID == 0 || seller.OwnerID != confirmerID {
		return OutcomeForbidden, nil
	}

	check, err := c.store.GetLegitCheckByRating(ctx, ratingID)
	if errors.Is(err, storage.ErrNotFound) {
		// Either never issued or already swept as expired.
		return OutcomeExpired, nil
	}
	if err != nil {
		return OutcomeNotFound, err
	}
	if check.Confirmed {
		return OutcomeAlreadyConfirmed, nil
	}
	now := c.now()
	if c.ttl > 0 && now.Sub(check.CreatedAt) > c.ttl {
		return OutcomeExpired, nil
	}

	flipped, err := c.store.ConfirmLegitCheck(ctx, ratingID, now)
	if err != nil {
		return OutcomeNotFound, err
	}
	if !flipped {
		return OutcomeAlreadyConfirmed, nil
	}
	logging.Infow("legit check confirmed", "seller_id", seller.ID, "rating_id", ratingID, "buyer_id", rating.ReviewerID)

	if err := c.notifier.NotifyBuyer(ctx, rating.ReviewerID, seller); err != nil {
		logging.Warnf("failed to notify buyer %d about rating %d: %v", rating.ReviewerID, ratingID, err)
	}
	return OutcomeConfirmed, nil
}

// Expire removes pending checks older than the TTL.
func (c *Coordinator) Expire(ctx context.Context) (int, error) {
	if c.ttl <= 0 {
		return 0, nil
	}
	return c.store.DeleteExpiredLegitChecks(ctx, c.now().Add(-c.ttl))
}
