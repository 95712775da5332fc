package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"legit-bot/internal/reputation"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
)

var (
	ErrSellerExists   = errors.New("seller already exists")
	ErrAlreadyClaimed = errors.New("seller is bound to another account")
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_.-]{2,32}$`)

// NormalizeUsername turns "@Some_Seller " into "some_seller". ok is false when
// the result is not a plausible username.
func NormalizeUsername(text string) (string, bool) {
	u := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(text), "@"))
	return u, usernameRe.MatchString(u)
}

// step handles one answer. It may mutate s; the engine persists s only when
// the result is a prompt.
type step func(ctx context.Context, e *Engine, s *session.Session, text string) stepResult

type stepResult struct {
	kind    ReplyKind
	text    string
	options []string
	// err is an infrastructure failure: the session is kept for a retry.
	err error
	// cause explains an abort in the logs.
	cause error
}

func prompt(text string, options ...string) stepResult {
	return stepResult{kind: ReplyPrompt, text: text, options: options}
}

func invalid(text string, options ...string) stepResult {
	return stepResult{kind: ReplyInvalid, text: text, options: options}
}

func aborted(text string, cause error) stepResult {
	return stepResult{kind: ReplyAborted, text: text, cause: cause}
}

func completed(text string) stepResult { return stepResult{kind: ReplyCompleted, text: text} }

func failed(err error) stepResult { return stepResult{kind: ReplyFailed, err: err} }

type flowDef struct {
	entry       session.State
	entryPrompt string
	steps       map[session.State]step
}

var flows = map[session.Flow]flowDef{
	session.FlowRateSeller: {
		entry:       session.StateAwaitingUsername,
		entryPrompt: msgAskUsername,
		steps: map[session.State]step{
			session.StateAwaitingUsername: rateUsername,
			session.StateAwaitingScore:    rateScore,
			session.StateAwaitingComment:  rateComment,
		},
	},
	session.FlowReportSeller: {
		entry:       session.StateAwaitingUsername,
		entryPrompt: msgAskUsername,
		steps: map[session.State]step{
			session.StateAwaitingUsername:    reportUsername,
			session.StateAwaitingDescription: reportDescription,
		},
	},
	session.FlowAddSeller: {
		entry:       session.StateAwaitingUsername,
		entryPrompt: msgAskUsername,
		steps: map[session.State]step{
			session.StateAwaitingUsername:    addUsername,
			session.StateAwaitingCity:        addCity,
			session.StateAwaitingDescription: addDescription,
		},
	},
	session.FlowVerifySeller: {
		entry:       session.StateAwaitingUsername,
		entryPrompt: msgAskOwnUsername,
		steps: map[session.State]step{
			session.StateAwaitingUsername: verifyUsername,
		},
	},
}

// lookupSeller returns found=false for an unknown username.
func (e *Engine) lookupSeller(ctx context.Context, username string) (storage.Seller, bool, error) {
	seller, err := e.store.GetSellerByUsername(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Seller{}, false, nil
	}
	if err != nil {
		return storage.Seller{}, false, fmt.Errorf("lookup seller %q: %w", username, err)
	}
	return seller, true, nil
}

func optionalText(text string) string {
	if text == noCommentPlaceholder {
		return ""
	}
	return text
}

// RateSeller

func rateUsername(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	username, ok := NormalizeUsername(text)
	if !ok {
		return invalid(msgBadUsername)
	}
	seller, found, err := e.lookupSeller(ctx, username)
	if err != nil {
		return failed(err)
	}
	if found {
		if seller.OwnerID == s.UserID {
			return aborted(msgSelfRating, reputation.ErrSelfRating)
		}
		rated, err := e.store.HasRating(ctx, seller.ID, s.UserID)
		if err != nil {
			return failed(fmt.Errorf("check rating: %w", err))
		}
		if rated {
			return aborted(msgAlreadyRated, reputation.ErrDuplicateReview)
		}
		s.SellerID = seller.ID
	}
	s.Username = username
	s.State = session.StateAwaitingScore
	s.ScoreIndex = 0
	return prompt(msgAskScore(0), scoreOptions...)
}

func rateScore(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	i := s.ScoreIndex
	if i < 0 || i >= len(criteria) {
		return failed(fmt.Errorf("session %s: score index %d out of range", s.ID, i))
	}
	v, err := strconv.Atoi(text)
	if err != nil || !reputation.ValidScore(v) {
		return invalid(msgBadScore(i), scoreOptions...)
	}
	switch i {
	case 0:
		s.Scores.Quality = v
	case 1:
		s.Scores.Delivery = v
	case 2:
		s.Scores.Communication = v
	case 3:
		s.Scores.Safety = v
	}
	if i+1 < len(criteria) {
		s.ScoreIndex = i + 1
		return prompt(msgAskScore(i+1), scoreOptions...)
	}
	s.State = session.StateAwaitingComment
	return prompt(msgAskComment, noCommentPlaceholder)
}

func rateComment(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	seller, err := e.store.GetOrCreateSeller(ctx, s.Username)
	if err != nil {
		return failed(fmt.Errorf("get or create seller %q: %w", s.Username, err))
	}
	s.SellerID = seller.ID
	_, updated, err := e.rep.RecordRating(ctx, seller.ID, s.UserID, s.Scores, optionalText(text))
	switch {
	case errors.Is(err, reputation.ErrDuplicateReview):
		return aborted(msgAlreadyRated, err)
	case errors.Is(err, reputation.ErrSelfRating):
		return aborted(msgSelfRating, err)
	case err != nil:
		return failed(err)
	}
	return completed(msgRatingSaved(updated))
}

// ReportSeller

func reportUsername(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	username, ok := NormalizeUsername(text)
	if !ok {
		return invalid(msgBadUsername)
	}
	seller, found, err := e.lookupSeller(ctx, username)
	if err != nil {
		return failed(err)
	}
	if !found {
		return aborted(msgSellerNotFound, storage.ErrNotFound)
	}
	s.Username = username
	s.SellerID = seller.ID
	s.State = session.StateAwaitingDescription
	return prompt(msgAskReportDesc)
}

func reportDescription(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	if text == "" {
		return invalid(msgBadReportDesc)
	}
	_, _, err := e.rep.RecordReport(ctx, s.SellerID, s.UserID, text)
	switch {
	case errors.Is(err, reputation.ErrDuplicateReport):
		return aborted(msgAlreadyReported, err)
	case errors.Is(err, storage.ErrNotFound):
		return aborted(msgSellerNotFound, err)
	case err != nil:
		return failed(err)
	}
	return completed(msgReportSaved)
}

// AddSeller

func addUsername(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	username, ok := NormalizeUsername(text)
	if !ok {
		return invalid(msgBadUsername)
	}
	_, found, err := e.lookupSeller(ctx, username)
	if err != nil {
		return failed(err)
	}
	if found {
		return aborted(msgSellerExists, ErrSellerExists)
	}
	s.Username = username
	s.State = session.StateAwaitingCity
	return prompt(msgAskCity)
}

func addCity(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	if text == "" {
		return invalid(msgBadCity)
	}
	s.City = text
	s.State = session.StateAwaitingDescription
	return prompt(msgAskSellerDesc, noCommentPlaceholder)
}

func addDescription(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	s.Description = optionalText(text)
	created, res, err := e.store.CreateSeller(ctx, storage.Seller{
		Username:    s.Username,
		City:        s.City,
		Description: s.Description,
	})
	if err != nil {
		return failed(fmt.Errorf("create seller %q: %w", s.Username, err))
	}
	if res == storage.Conflict {
		return aborted(msgSellerExists, ErrSellerExists)
	}
	s.SellerID = created.ID
	return completed(msgSellerAdded)
}

// VerifySeller

func verifyUsername(ctx context.Context, e *Engine, s *session.Session, text string) stepResult {
	username, ok := NormalizeUsername(text)
	if !ok {
		return invalid(msgBadUsername)
	}
	seller, found, err := e.lookupSeller(ctx, username)
	if err != nil {
		return failed(err)
	}
	if !found {
		return aborted(msgSellerNotFound, storage.ErrNotFound)
	}
	s.Username = username
	s.SellerID = seller.ID
	res, err := e.store.BindOwner(ctx, seller.ID, s.UserID)
	if err != nil {
		return failed(fmt.Errorf("bind owner: %w", err))
	}
	if res == storage.Conflict {
		return aborted(msgAlreadyClaimed, ErrAlreadyClaimed)
	}
	return completed(msgVerified)
}
