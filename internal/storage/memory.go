package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ratingKey struct{ sellerID, userID int64 }

// MemoryStore keeps everything in process memory. It backs tests and runs
// without DATABASE_URL; state is lost on restart.
type MemoryStore struct {
	mu sync.Mutex

	nextID      int64
	sellers     map[int64]*Seller
	byUsername  map[string]int64
	ratings     map[int64]Rating
	ratingByKey map[ratingKey]int64
	reports     map[ratingKey]Report
	legit       map[int64]LegitCheck // by rating id

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sellers:     make(map[int64]*Seller),
		byUsername:  make(map[string]int64),
		ratings:     make(map[int64]Rating),
		ratingByKey: make(map[ratingKey]int64),
		reports:     make(map[ratingKey]Report),
		legit:       make(map[int64]LegitCheck),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) GetSeller(ctx context.Context, id int64) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sellers[id]
	if !ok {
		return Seller{}, fmt.Errorf("seller %d: %w", id, ErrNotFound)
	}
	return *s, nil
}

func (m *MemoryStore) GetSellerByUsername(ctx context.Context, username string) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byUsername[username]
	if !ok {
		return Seller{}, fmt.Errorf("seller %q: %w", username, ErrNotFound)
	}
	return *m.sellers[id], nil
}

func (m *MemoryStore) CreateSeller(ctx context.Context, s Seller) (Seller, InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byUsername[s.Username]; ok {
		return *m.sellers[id], Conflict, nil
	}
	return m.insertSellerLocked(s), Inserted, nil
}

func (m *MemoryStore) GetOrCreateSeller(ctx context.Context, username string) (Seller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byUsername[username]; ok {
		return *m.sellers[id], nil
	}
	return m.insertSellerLocked(Seller{Username: username}), nil
}

func (m *MemoryStore) insertSellerLocked(s Seller) Seller {
	s.ID = m.id()
	s.AvgRating, s.RatingCount, s.ReportsCount = 0, 0, 0
	if s.RiskStatus == "" {
		s.RiskStatus = RiskNewUser
	}
	s.CreatedAt = m.now()
	m.sellers[s.ID] = &s
	m.byUsername[s.Username] = s.ID
	return s
}

func (m *MemoryStore) BindOwner(ctx context.Context, sellerID, ownerID int64) (InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sellers[sellerID]
	if !ok {
		return Inserted, fmt.Errorf("seller %d: %w", sellerID, ErrNotFound)
	}
	if s.OwnerID != 0 && s.OwnerID != ownerID {
		return Conflict, nil
	}
	s.OwnerID = ownerID
	return Inserted, nil
}

func (m *MemoryStore) GetRating(ctx context.Context, id int64) (Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ratings[id]
	if !ok {
		return Rating{}, fmt.Errorf("rating %d: %w", id, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) HasRating(ctx context.Context, sellerID, reviewerID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ratingByKey[ratingKey{sellerID, reviewerID}]
	return ok, nil
}

// InSellerTx holds the store lock for the whole of fn, so fn must only use tx.
func (m *MemoryStore) InSellerTx(ctx context.Context, sellerID int64, fn func(tx SellerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sellers[sellerID]
	if !ok {
		return fmt.Errorf("seller %d: %w", sellerID, ErrNotFound)
	}
	tx := &memTx{m: m, seller: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *MemoryStore) InsertLegitCheck(ctx context.Context, lc LegitCheck) (LegitCheck, InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.legit[lc.RatingID]; ok {
		return existing, Conflict, nil
	}
	if _, ok := m.ratings[lc.RatingID]; !ok {
		return LegitCheck{}, Inserted, fmt.Errorf("rating %d: %w", lc.RatingID, ErrNotFound)
	}
	lc.ID = m.id()
	if lc.CreatedAt.IsZero() {
		lc.CreatedAt = m.now()
	}
	m.legit[lc.RatingID] = lc
	return lc, Inserted, nil
}

func (m *MemoryStore) GetLegitCheckByRating(ctx context.Context, ratingID int64) (LegitCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.legit[ratingID]
	if !ok {
		return LegitCheck{}, fmt.Errorf("legit check for rating %d: %w", ratingID, ErrNotFound)
	}
	return lc, nil
}

func (m *MemoryStore) ConfirmLegitCheck(ctx context.Context, ratingID int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.legit[ratingID]
	if !ok {
		return false, fmt.Errorf("legit check for rating %d: %w", ratingID, ErrNotFound)
	}
	if lc.Confirmed {
		return false, nil
	}
	lc.Confirmed = true
	lc.ConfirmedAt = &at
	m.legit[ratingID] = lc
	return true, nil
}

func (m *MemoryStore) DeletePendingLegitCheck(ctx context.Context, ratingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc, ok := m.legit[ratingID]
	if !ok || lc.Confirmed {
		return false, nil
	}
	delete(m.legit, ratingID)
	return true, nil
}

func (m *MemoryStore) DeleteExpiredLegitChecks(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, lc := range m.legit {
		if !lc.Confirmed && lc.CreatedAt.Before(before) {
			delete(m.legit, id)
			n++
		}
	}
	return n, nil
}

// memTx mutates the store in place and keeps an undo log for rollback.
type memTx struct {
	m      *MemoryStore
	seller *Seller
	undo   []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) Seller(ctx context.Context) (Seller, error) { return *t.seller, nil }

func (t *memTx) InsertRating(ctx context.Context, r Rating) (Rating, InsertResult, error) {
	key := ratingKey{t.seller.ID, r.ReviewerID}
	if id, ok := t.m.ratingByKey[key]; ok {
		return t.m.ratings[id], Conflict, nil
	}
	r.ID = t.m.id()
	r.SellerID = t.seller.ID
	r.CreatedAt = t.m.now()
	t.m.ratings[r.ID] = r
	t.m.ratingByKey[key] = r.ID
	t.undo = append(t.undo, func() {
		delete(t.m.ratings, r.ID)
		delete(t.m.ratingByKey, key)
	})
	return r, Inserted, nil
}

func (t *memTx) InsertReport(ctx context.Context, r Report) (Report, InsertResult, error) {
	key := ratingKey{t.seller.ID, r.ReporterID}
	if existing, ok := t.m.reports[key]; ok {
		return existing, Conflict, nil
	}
	r.ID = t.m.id()
	r.SellerID = t.seller.ID
	r.CreatedAt = t.m.now()
	t.m.reports[key] = r
	t.undo = append(t.undo, func() { delete(t.m.reports, key) })
	return r, Inserted, nil
}

func (t *memTx) ListRatings(ctx context.Context) ([]Rating, error) {
	var out []Rating
	for _, r := range t.m.ratings {
		if r.SellerID == t.seller.ID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) IncrementReports(ctx context.Context) (int, error) {
	prev := t.seller.ReportsCount
	t.seller.ReportsCount++
	t.undo = append(t.undo, func() { t.seller.ReportsCount = prev })
	return t.seller.ReportsCount, nil
}

func (t *memTx) UpdateAggregate(ctx context.Context, agg Aggregate) error {
	prev := *t.seller
	t.seller.AvgRating = agg.AvgRating
	t.seller.RatingCount = agg.RatingCount
	t.seller.ReportsCount = agg.ReportsCount
	t.seller.RiskStatus = agg.RiskStatus
	t.undo = append(t.undo, func() { *t.seller = prev })
	return nil
}
