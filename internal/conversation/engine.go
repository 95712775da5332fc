// Package conversation drives the guided multi-step flows (rating,
// reporting, registering and verifying a seller) as explicit per-user state
// machines.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"legit-bot/internal/audit"
	"legit-bot/internal/logging"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
)

// ReplyKind classifies the engine's answer to an event.
type ReplyKind int

const (
	// ReplyNoOp means the event was not for the engine: the user has no flow.
	ReplyNoOp ReplyKind = iota
	// ReplyPrompt asks for the next answer.
	ReplyPrompt
	// ReplyInvalid re-asks the same question; the session is unchanged.
	ReplyInvalid
	// ReplyCompleted means the flow finished and its effect was applied.
	ReplyCompleted
	// ReplyCancelled means the user dropped the flow.
	ReplyCancelled
	// ReplyAborted means the flow ended early (unknown seller, duplicate...).
	ReplyAborted
	// ReplyFailed means the store was unavailable; the same step can be retried.
	ReplyFailed
)

func (k ReplyKind) String() string {
	return [...]string{"noop", "prompt", "invalid", "completed", "cancelled", "aborted", "failed"}[k]
}

// Reply is what the transport should show the user. Options are quick-reply
// answers whose payload equals the label; Token names the question they
// answer and must be passed back to HandleAnswer.
type Reply struct {
	Kind    ReplyKind
	Text    string
	Options []string
	Token   string
}

// Reputation is the part of the aggregator the engine needs.
type Reputation interface {
	RecordRating(ctx context.Context, sellerID, reviewerID int64, scores storage.Scores, comment string) (storage.Rating, storage.Seller, error)
	RecordReport(ctx context.Context, sellerID, reporterID int64, description string) (storage.Report, storage.Seller, error)
}

var cancelTokens = map[string]bool{
	"/anuluj": true,
	"/cancel": true,
	"anuluj":  true,
	"cancel":  true,
}

// IsCancel reports whether text asks to drop the current flow.
func IsCancel(text string) bool {
	return cancelTokens[strings.ToLower(strings.TrimSpace(text))]
}

// Engine runs one flow per user and serialises each user's events.
type Engine struct {
	sessions session.Store
	store    storage.Store
	rep      Reputation
	locks    *session.KeyedMutex
	recorder audit.Recorder
	now      func() time.Time
}

// New creates an Engine over the given session and seller stores.
func New(sessions session.Store, store storage.Store, rep Reputation) *Engine {
	return &Engine{
		sessions: sessions,
		store:    store,
		rep:      rep,
		locks:    session.NewKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRecorder enables the audit trail of finished flows.
func (e *Engine) SetRecorder(r audit.Recorder) { e.recorder = r }

// Start opens flow for userID at its entry state, replacing whatever flow the
// user had in progress.
func (e *Engine) Start(ctx context.Context, userID int64, flow session.Flow) (Reply, error) {
	def, ok := flows[flow]
	if !ok {
		return Reply{}, fmt.Errorf("unknown flow %q", flow)
	}
	unlock := e.locks.Lock(userID)
	defer unlock()

	s := session.Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Flow:   flow,
		State:  def.entry,
	}
	if err := e.sessions.Set(ctx, s); err != nil {
		return Reply{Kind: ReplyFailed, Text: msgFailed}, fmt.Errorf("start %s: %w", flow, err)
	}
	logging.Infow("flow started", "user_id", userID, "flow", flow, "session_id", s.ID)
	return Reply{Kind: ReplyPrompt, Text: def.entryPrompt, Token: answerToken(s)}, nil
}

// answerToken identifies the question a session is currently asking. It
// changes with every prompt, so buttons of earlier questions or flows stop
// matching.
func answerToken(s session.Session) string {
	return fmt.Sprintf("%.8s.%d", s.ID, s.Step)
}

// Cancel drops the user's flow, if any, without side effects.
func (e *Engine) Cancel(ctx context.Context, userID int64) (Reply, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()
	s, ok, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return Reply{Kind: ReplyFailed, Text: msgFailed}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Reply{Kind: ReplyNoOp}, nil
	}
	return e.cancelLocked(ctx, s)
}

func (e *Engine) cancelLocked(ctx context.Context, s session.Session) (Reply, error) {
	if err := e.sessions.Delete(ctx, s.UserID); err != nil {
		return Reply{Kind: ReplyFailed, Text: msgFailed}, fmt.Errorf("delete session: %w", err)
	}
	e.record(s, audit.OutcomeCancelled)
	return Reply{Kind: ReplyCancelled, Text: msgCancelled}, nil
}

// HandleInput feeds one free-text answer to the user's active flow.
func (e *Engine) HandleInput(ctx context.Context, userID int64, text string) (Reply, error) {
	return e.handle(ctx, userID, text, func(session.Session) bool { return true })
}

// HandleAnswer feeds a quick-reply answer. It is a no-op unless token still
// names the question the user's flow is asking.
func (e *Engine) HandleAnswer(ctx context.Context, userID int64, token, text string) (Reply, error) {
	return e.handle(ctx, userID, text, func(s session.Session) bool {
		if answerToken(s) != token {
			logging.Debugf("dropping stale answer %q from %d: token %q, session %s", text, userID, token, s.ID)
			return false
		}
		return true
	})
}

func (e *Engine) handle(ctx context.Context, userID int64, text string, accept func(session.Session) bool) (Reply, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	s, ok, err := e.sessions.Get(ctx, userID)
	if err != nil {
		return Reply{Kind: ReplyFailed, Text: msgFailed}, fmt.Errorf("load session: %w", err)
	}
	if !ok || !accept(s) {
		return Reply{Kind: ReplyNoOp}, nil
	}
	if IsCancel(text) {
		return e.cancelLocked(ctx, s)
	}

	def, ok := flows[s.Flow]
	if !ok {
		_ = e.sessions.Delete(ctx, userID)
		return Reply{Kind: ReplyNoOp}, fmt.Errorf("session %s has unknown flow %q", s.ID, s.Flow)
	}
	st, ok := def.steps[s.State]
	if !ok {
		_ = e.sessions.Delete(ctx, userID)
		return Reply{Kind: ReplyNoOp}, fmt.Errorf("session %s has unknown state %q in flow %s", s.ID, s.State, s.Flow)
	}

	next := s
	res := st(ctx, e, &next, strings.TrimSpace(text))
	if res.err != nil {
		logging.Errorw("flow step failed", "user_id", userID, "flow", s.Flow, "state", s.State, "session_id", s.ID, "error", res.err)
		return Reply{Kind: ReplyFailed, Text: msgFailed}, res.err
	}

	reply := Reply{Kind: res.kind, Text: res.text, Options: res.options}
	switch res.kind {
	case ReplyInvalid:
		reply.Token = answerToken(s)
	case ReplyPrompt:
		next.Step = s.Step + 1
		if err := e.sessions.Set(ctx, next); err != nil {
			return Reply{Kind: ReplyFailed, Text: msgFailed}, fmt.Errorf("save session: %w", err)
		}
		reply.Token = answerToken(next)
	case ReplyCompleted, ReplyAborted:
		if err := e.sessions.Delete(ctx, userID); err != nil {
			// The effect is already applied; a stale session only costs the
			// user one extra message, so report success anyway.
			logging.Warnf("failed to delete session %s: %v", s.ID, err)
		}
		outcome := audit.OutcomeCompleted
		if res.kind == ReplyAborted {
			outcome = audit.OutcomeAborted
		}
		e.record(next, outcome)
		if res.cause != nil {
			logging.Infow("flow finished", "user_id", userID, "flow", s.Flow, "session_id", s.ID, "outcome", outcome, "reason", res.cause.Error())
		} else {
			logging.Infow("flow finished", "user_id", userID, "flow", s.Flow, "session_id", s.ID, "outcome", outcome)
		}
	}
	return reply, nil
}

func (e *Engine) record(s session.Session, outcome string) {
	if e.recorder == nil {
		return
	}
	ev := audit.Event{
		Timestamp: e.now(),
		UserID:    s.UserID,
		Flow:      string(s.Flow),
		Outcome:   outcome,
		Seller:    s.Username,
	}
	if err := e.recorder.Append(ev); err != nil {
		logging.Warnf("failed to append audit event: %v", err)
	}
}
