package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"legit-bot/internal/audit"
	"legit-bot/internal/reputation"
	"legit-bot/internal/session"
	"legit-bot/internal/storage"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeRecorder) Append(ev audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) Load() ([]audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Event(nil), f.events...), nil
}

// flakyStore fails seller lookups while down is set.
type flakyStore struct {
	storage.Store
	mu   sync.Mutex
	down bool
}

func (f *flakyStore) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *flakyStore) GetSellerByUsername(ctx context.Context, username string) (storage.Seller, error) {
	f.mu.Lock()
	down := f.down
	f.mu.Unlock()
	if down {
		return storage.Seller{}, errors.New("connection refused")
	}
	return f.Store.GetSellerByUsername(ctx, username)
}

type fixture struct {
	store    *storage.MemoryStore
	sessions *session.MemoryStore
	recorder *fakeRecorder
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	sessions := session.NewMemoryStore(time.Hour)
	rec := &fakeRecorder{}
	e := New(sessions, store, reputation.New(store, nil))
	e.SetRecorder(rec)
	return &fixture{store: store, sessions: sessions, recorder: rec, engine: e}
}

func (f *fixture) feed(t *testing.T, userID int64, inputs ...string) Reply {
	t.Helper()
	var last Reply
	for _, in := range inputs {
		r, err := f.engine.HandleInput(context.Background(), userID, in)
		require.NoError(t, err, "input %q", in)
		last = r
	}
	return last
}

func TestRateSeller_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)
	require.Equal(t, ReplyPrompt, r.Kind)
	require.Equal(t, msgAskUsername, r.Text)

	r = f.feed(t, 7, "@SellerUser")
	require.Equal(t, ReplyPrompt, r.Kind)
	require.Equal(t, scoreOptions, r.Options)

	_, err = f.store.GetSellerByUsername(ctx, "selleruser")
	require.ErrorIs(t, err, storage.ErrNotFound, "no seller before the terminal step")

	r = f.feed(t, 7, "5", "4", "3", "5")
	require.Equal(t, ReplyPrompt, r.Kind)
	require.Equal(t, msgAskComment, r.Text)

	r = f.feed(t, 7, "great")
	require.Equal(t, ReplyCompleted, r.Kind)

	seller, err := f.store.GetSellerByUsername(ctx, "selleruser")
	require.NoError(t, err)
	assert.Equal(t, 1, seller.RatingCount)
	assert.InDelta(t, 4.35, seller.AvgRating, 1e-9)
	assert.Equal(t, storage.RiskNewUser, seller.RiskStatus)

	has, err := f.store.HasRating(ctx, seller.ID, 7)
	require.NoError(t, err)
	assert.True(t, has)

	_, ok, err := f.sessions.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok, "session is removed on completion")

	events, _ := f.recorder.Load()
	require.Len(t, events, 1)
	assert.Equal(t, audit.OutcomeCompleted, events[0].Outcome)
	assert.Equal(t, "selleruser", events[0].Seller)
}

func TestRateSeller_DashMeansNoComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)
	r := f.feed(t, 7, "quiet", "1", "1", "1", "1", "-")
	require.Equal(t, ReplyCompleted, r.Kind)

	seller, err := f.store.GetSellerByUsername(ctx, "quiet")
	require.NoError(t, err)
	require.NoError(t, f.store.InSellerTx(ctx, seller.ID, func(tx storage.SellerTx) error {
		all, err := tx.ListRatings(ctx)
		require.Len(t, all, 1)
		assert.Empty(t, all[0].Comment)
		return err
	}))
}

func TestRateSeller_ValidationRePrompts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)

	r := f.feed(t, 7, "@!")
	require.Equal(t, ReplyInvalid, r.Kind)
	require.Equal(t, msgBadUsername, r.Text)

	f.feed(t, 7, "selleruser", "5")
	before, _, _ := f.sessions.Get(ctx, 7)

	for _, bad := range []string{"0", "6", "abc", "4.5", ""} {
		r = f.feed(t, 7, bad)
		require.Equal(t, ReplyInvalid, r.Kind, "input %q", bad)
		require.Equal(t, msgBadScore(1), r.Text)
	}
	after, _, _ := f.sessions.Get(ctx, 7)
	require.Equal(t, before.ScoreIndex, after.ScoreIndex)
	require.Equal(t, before.Scores, after.Scores)
	require.Equal(t, 1, after.ScoreIndex)
	require.Equal(t, 5, after.Scores.Quality)
}

func TestCancel_DiscardsEverything(t *testing.T) {
	for _, token := range []string{"/anuluj", "Anuluj", " cancel ", "/CANCEL"} {
		t.Run(token, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
			require.NoError(t, err)
			f.feed(t, 7, "selleruser", "5")

			r := f.feed(t, 7, token)
			require.Equal(t, ReplyCancelled, r.Kind)

			_, ok, _ := f.sessions.Get(ctx, 7)
			require.False(t, ok)
			_, err = f.store.GetSellerByUsername(ctx, "selleruser")
			require.ErrorIs(t, err, storage.ErrNotFound)

			r = f.feed(t, 7, "4")
			require.Equal(t, ReplyNoOp, r.Kind)
		})
	}
}

func TestCancel_Explicit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, err := f.engine.Cancel(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, ReplyNoOp, r.Kind)

	_, err = f.engine.Start(ctx, 7, session.FlowReportSeller)
	require.NoError(t, err)
	r, err = f.engine.Cancel(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, ReplyCancelled, r.Kind)

	events, _ := f.recorder.Load()
	require.Len(t, events, 1)
	require.Equal(t, audit.OutcomeCancelled, events[0].Outcome)
}

func TestHandleInput_NoSession(t *testing.T) {
	f := newFixture(t)
	r := f.feed(t, 7, "hello")
	require.Equal(t, ReplyNoOp, r.Kind)
}

func TestStart_ReplacesRunningFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)
	f.feed(t, 7, "selleruser", "5")

	_, err = f.engine.Start(ctx, 7, session.FlowAddSeller)
	require.NoError(t, err)
	s, ok, _ := f.sessions.Get(ctx, 7)
	require.True(t, ok)
	require.Equal(t, session.FlowAddSeller, s.Flow)
	require.Equal(t, session.StateAwaitingUsername, s.State)
	require.Zero(t, s.Scores)
}

func TestRateSeller_Aborts(t *testing.T) {
	ctx := context.Background()

	t.Run("already rated", func(t *testing.T) {
		f := newFixture(t)
		_, _ = f.engine.Start(ctx, 7, session.FlowRateSeller)
		f.feed(t, 7, "selleruser", "5", "5", "5", "5", "-")

		_, _ = f.engine.Start(ctx, 7, session.FlowRateSeller)
		r := f.feed(t, 7, "selleruser")
		require.Equal(t, ReplyAborted, r.Kind)
		require.Equal(t, msgAlreadyRated, r.Text)
		_, ok, _ := f.sessions.Get(ctx, 7)
		require.False(t, ok)
	})

	t.Run("own account", func(t *testing.T) {
		f := newFixture(t)
		seller, _ := f.store.GetOrCreateSeller(ctx, "me")
		_, _ = f.store.BindOwner(ctx, seller.ID, 7)

		_, _ = f.engine.Start(ctx, 7, session.FlowRateSeller)
		r := f.feed(t, 7, "@me")
		require.Equal(t, ReplyAborted, r.Kind)
		require.Equal(t, msgSelfRating, r.Text)
	})
}

func TestRateSeller_ConcurrentReviewersBothCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, uid := range []int64{1, 2} {
		_, err := f.engine.Start(ctx, uid, session.FlowRateSeller)
		require.NoError(t, err)
		f.feed(t, uid, "selleruser", "4", "4", "4", "4")
	}
	for _, uid := range []int64{1, 2} {
		wg.Add(1)
		go func(uid int64) {
			defer wg.Done()
			r, err := f.engine.HandleInput(ctx, uid, "ok")
			assert.NoError(t, err)
			assert.Equal(t, ReplyCompleted, r.Kind)
		}(uid)
	}
	wg.Wait()

	seller, err := f.store.GetSellerByUsername(ctx, "selleruser")
	require.NoError(t, err)
	require.Equal(t, 2, seller.RatingCount)
	require.InDelta(t, 4.0, seller.AvgRating, 1e-9)
}

func TestReportSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.engine.Start(ctx, 9, session.FlowReportSeller)
	r := f.feed(t, 9, "ghost")
	require.Equal(t, ReplyAborted, r.Kind)
	require.Equal(t, msgSellerNotFound, r.Text)

	_, _ = f.store.GetOrCreateSeller(ctx, "shady")
	_, _ = f.engine.Start(ctx, 9, session.FlowReportSeller)
	r = f.feed(t, 9, "@shady", "")
	require.Equal(t, ReplyInvalid, r.Kind)
	r = f.feed(t, 9, "nie wysłał towaru")
	require.Equal(t, ReplyCompleted, r.Kind)

	seller, _ := f.store.GetSellerByUsername(ctx, "shady")
	require.Equal(t, 1, seller.ReportsCount)

	_, _ = f.engine.Start(ctx, 9, session.FlowReportSeller)
	r = f.feed(t, 9, "shady", "again")
	require.Equal(t, ReplyAborted, r.Kind)
	require.Equal(t, msgAlreadyReported, r.Text)
	seller, _ = f.store.GetSellerByUsername(ctx, "shady")
	require.Equal(t, 1, seller.ReportsCount)
}

func TestAddSeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.engine.Start(ctx, 3, session.FlowAddSeller)
	r := f.feed(t, 3, "@NewShop", "")
	require.Equal(t, ReplyInvalid, r.Kind)
	require.Equal(t, msgBadCity, r.Text)
	r = f.feed(t, 3, "Kraków", "Sneakersy i ubrania")
	require.Equal(t, ReplyCompleted, r.Kind)

	seller, err := f.store.GetSellerByUsername(ctx, "newshop")
	require.NoError(t, err)
	require.Equal(t, "Kraków", seller.City)
	require.Equal(t, "Sneakersy i ubrania", seller.Description)
	require.Equal(t, storage.RiskNewUser, seller.RiskStatus)

	_, _ = f.engine.Start(ctx, 4, session.FlowAddSeller)
	r = f.feed(t, 4, "newshop")
	require.Equal(t, ReplyAborted, r.Kind)
	require.Equal(t, msgSellerExists, r.Text)
}

func TestAddSeller_LostRaceAtInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _ = f.engine.Start(ctx, 3, session.FlowAddSeller)
	f.feed(t, 3, "shop", "Łódź")
	_, _ = f.store.GetOrCreateSeller(ctx, "shop")

	r := f.feed(t, 3, "-")
	require.Equal(t, ReplyAborted, r.Kind)
	require.Equal(t, msgSellerExists, r.Text)
}

func TestVerifySeller(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller, _ := f.store.GetOrCreateSeller(ctx, "shop")

	_, _ = f.engine.Start(ctx, 5, session.FlowVerifySeller)
	r := f.feed(t, 5, "nobody")
	require.Equal(t, ReplyAborted, r.Kind)

	_, _ = f.engine.Start(ctx, 5, session.FlowVerifySeller)
	r = f.feed(t, 5, "@shop")
	require.Equal(t, ReplyCompleted, r.Kind)
	got, _ := f.store.GetSeller(ctx, seller.ID)
	require.Equal(t, int64(5), got.OwnerID)

	_, _ = f.engine.Start(ctx, 6, session.FlowVerifySeller)
	r = f.feed(t, 6, "shop")
	require.Equal(t, ReplyAborted, r.Kind)
	require.Equal(t, msgAlreadyClaimed, r.Text)
	got, _ = f.store.GetSeller(ctx, seller.ID)
	require.Equal(t, int64(5), got.OwnerID)
}

func TestInfraFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: storage.NewMemoryStore()}
	sessions := session.NewMemoryStore(time.Hour)
	e := New(sessions, store, reputation.New(store, nil))

	_, err := e.Start(ctx, 7, session.FlowReportSeller)
	require.NoError(t, err)

	store.setDown(true)
	r, err := e.HandleInput(ctx, 7, "shady")
	require.Error(t, err)
	require.Equal(t, ReplyFailed, r.Kind)

	s, ok, _ := sessions.Get(ctx, 7)
	require.True(t, ok)
	require.Equal(t, session.StateAwaitingUsername, s.State)

	store.setDown(false)
	_, _ = store.GetOrCreateSeller(ctx, "shady")
	r, err = e.HandleInput(ctx, 7, "shady")
	require.NoError(t, err)
	require.Equal(t, ReplyPrompt, r.Kind)
}

func TestNormalizeUsername(t *testing.T) {
	cases := map[string]struct {
		want string
		ok   bool
	}{
		"@SellerUser":  {"selleruser", true},
		"  shop_1.pl ": {"shop_1.pl", true},
		"a":            {"a", false},
		"two words":    {"two words", false},
		"@":            {"", false},
	}
	for in, tc := range cases {
		got, ok := NormalizeUsername(in)
		assert.Equal(t, tc.ok, ok, in)
		if tc.ok {
			assert.Equal(t, tc.want, got, in)
		}
	}
}

func TestHandleAnswer_OnlyCurrentQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)
	first := f.feed(t, 7, "shop")
	require.Equal(t, ReplyPrompt, first.Kind)
	require.NotEmpty(t, first.Token)

	r, err := f.engine.HandleAnswer(ctx, 7, first.Token, "5")
	require.NoError(t, err)
	require.Equal(t, ReplyPrompt, r.Kind)
	require.NotEqual(t, first.Token, r.Token)

	r, err = f.engine.HandleAnswer(ctx, 7, first.Token, "1")
	require.NoError(t, err)
	require.Equal(t, ReplyNoOp, r.Kind, "answer to an earlier question is dropped")
	s, ok, err := f.sessions.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, s.ScoreIndex)
	require.Equal(t, 5, s.Scores.Quality)

	invalid, err := f.engine.HandleAnswer(ctx, 7, "", "9")
	require.NoError(t, err)
	require.Equal(t, ReplyNoOp, invalid.Kind, "an empty token never matches")

	current := answerToken(s)
	invalid, err = f.engine.HandleAnswer(ctx, 7, current, "9")
	require.NoError(t, err)
	require.Equal(t, ReplyInvalid, invalid.Kind)
	require.Equal(t, current, invalid.Token, "re-asking keeps the question token")

	// A new flow invalidates every token of the old one.
	_, err = f.engine.Start(ctx, 7, session.FlowRateSeller)
	require.NoError(t, err)
	r, err = f.engine.HandleAnswer(ctx, 7, current, "4")
	require.NoError(t, err)
	require.Equal(t, ReplyNoOp, r.Kind)
}
