// Package session holds the single active conversation of each user.
package session

import (
	"context"
	"time"

	"legit-bot/internal/storage"
)

// Flow is the kind of guided conversation a session belongs to.
type Flow string

const (
	FlowRateSeller   Flow = "rate_seller"
	FlowReportSeller Flow = "report_seller"
	FlowAddSeller    Flow = "add_seller"
	FlowVerifySeller Flow = "verify_seller"
)

// State is a step within a flow.
type State string

const (
	StateAwaitingUsername    State = "awaiting_username"
	StateAwaitingScore       State = "awaiting_score"
	StateAwaitingComment     State = "awaiting_comment"
	StateAwaitingCity        State = "awaiting_city"
	StateAwaitingDescription State = "awaiting_description"
)

// Session is the accumulated state of one user's flow. Fields a flow does not
// use stay zero.
type Session struct {
	ID     string `json:"id"`
	UserID int64  `json:"user_id"`
	Flow   Flow   `json:"flow"`
	State  State  `json:"state"`
	// Step counts the questions asked so far.
	Step   int    `json:"step,omitempty"`

	Username string `json:"username,omitempty"`
	// SellerID is 0 while a rated seller does not exist yet.
	SellerID    int64          `json:"seller_id,omitempty"`
	ScoreIndex  int            `json:"score_index,omitempty"`
	Scores      storage.Scores `json:"scores"`
	City        string         `json:"city,omitempty"`
	Description string         `json:"description,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps at most one session per user. Get reports ok=false when the
// user has no live session.
type Store interface {
	Get(ctx context.Context, userID int64) (Session, bool, error)
	Set(ctx context.Context, s Session) error
	Delete(ctx context.Context, userID int64) error
}
