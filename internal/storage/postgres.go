package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"legit-bot/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const sellerColumns = `id, username, city, description, owner_id, avg_rating, rating_count, reports_count, risk_status, created_at`

const ratingColumns = `id, seller_id, reviewer_id, quality, delivery, communication, safety, comment, created_at`

const legitColumns = `id, seller_id, buyer_id, rating_id, confirmed, created_at, confirmed_at`

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects and pings. It leaves the schema alone; callers
// that own it run Migrate.
func NewPostgresStore(ctx context.Context, databaseURL string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.MaxConnLifetime = time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate applies migrations/*.sql in lexical order. Every statement is
// idempotent so the whole set runs on each start.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(raw)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
		logging.Infow("migration applied", "migration", name)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func scanSeller(row pgx.Row) (Seller, error) {
	var (
		out   Seller
		owner *int64
		risk  string
	)
	err := row.Scan(&out.ID, &out.Username, &out.City, &out.Description, &owner,
		&out.AvgRating, &out.RatingCount, &out.ReportsCount, &risk, &out.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Seller{}, ErrNotFound
		}
		return Seller{}, err
	}
	if owner != nil {
		out.OwnerID = *owner
	}
	out.RiskStatus = RiskStatus(risk)
	return out, nil
}

func scanRating(row pgx.Row) (Rating, error) {
	var r Rating
	err := row.Scan(&r.ID, &r.SellerID, &r.ReviewerID,
		&r.Scores.Quality, &r.Scores.Delivery, &r.Scores.Communication, &r.Scores.Safety,
		&r.Comment, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rating{}, ErrNotFound
	}
	return r, err
}

func scanLegitCheck(row pgx.Row) (LegitCheck, error) {
	var lc LegitCheck
	err := row.Scan(&lc.ID, &lc.SellerID, &lc.BuyerID, &lc.RatingID, &lc.Confirmed, &lc.CreatedAt, &lc.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LegitCheck{}, ErrNotFound
	}
	return lc, err
}

func (s *PostgresStore) GetSeller(ctx context.Context, id int64) (Seller, error) {
	out, err := scanSeller(s.pool.QueryRow(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE id = $1`, id))
	if err != nil {
		return Seller{}, fmt.Errorf("get seller %d: %w", id, err)
	}
	return out, nil
}

func (s *PostgresStore) GetSellerByUsername(ctx context.Context, username string) (Seller, error) {
	out, err := scanSeller(s.pool.QueryRow(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE username = $1`, username))
	if err != nil {
		return Seller{}, fmt.Errorf("get seller %q: %w", username, err)
	}
	return out, nil
}

func (s *PostgresStore) CreateSeller(ctx context.Context, in Seller) (Seller, InsertResult, error) {
	out, err := scanSeller(s.pool.QueryRow(ctx, `
		INSERT INTO sellers (username, city, description, risk_status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING
		RETURNING `+sellerColumns,
		in.Username, in.City, in.Description, string(RiskNewUser)))
	if errors.Is(err, ErrNotFound) {
		return Seller{}, Conflict, nil
	}
	if err != nil {
		return Seller{}, Inserted, fmt.Errorf("create seller %q: %w", in.Username, err)
	}
	return out, Inserted, nil
}

func (s *PostgresStore) GetOrCreateSeller(ctx context.Context, username string) (Seller, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	out, err := scanSeller(s.pool.QueryRow(ctx, `
		INSERT INTO sellers (username, risk_status)
		VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING `+sellerColumns,
		username, string(RiskNewUser)))
	if err != nil {
		return Seller{}, fmt.Errorf("get or create seller %q: %w", username, err)
	}
	return out, nil
}

func (s *PostgresStore) BindOwner(ctx context.Context, sellerID, ownerID int64) (InsertResult, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sellers SET owner_id = $2
		WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2)`, sellerID, ownerID)
	if err != nil {
		return Inserted, fmt.Errorf("bind owner of seller %d: %w", sellerID, err)
	}
	if tag.RowsAffected() == 1 {
		return Inserted, nil
	}
	if _, err := s.GetSeller(ctx, sellerID); err != nil {
		return Inserted, err
	}
	return Conflict, nil
}

func (s *PostgresStore) GetRating(ctx context.Context, id int64) (Rating, error) {
	r, err := scanRating(s.pool.QueryRow(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE id = $1`, id))
	if err != nil {
		return Rating{}, fmt.Errorf("get rating %d: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) HasRating(ctx context.Context, sellerID, reviewerID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ratings WHERE seller_id = $1 AND reviewer_id = $2)`,
		sellerID, reviewerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rating: %w", err)
	}
	return exists, nil
}

// InSellerTx locks the seller row FOR UPDATE for the lifetime of the
// transaction, which serialises concurrent raters of one seller.
func (s *PostgresStore) InSellerTx(ctx context.Context, sellerID int64, fn func(tx SellerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	seller, err := scanSeller(tx.QueryRow(ctx, `SELECT `+sellerColumns+` FROM sellers WHERE id = $1 FOR UPDATE`, sellerID))
	if err != nil {
		return fmt.Errorf("lock seller %d: %w", sellerID, err)
	}
	if err := fn(&pgSellerTx{tx: tx, seller: seller}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertLegitCheck(ctx context.Context, lc LegitCheck) (LegitCheck, InsertResult, error) {
	if lc.CreatedAt.IsZero() {
		lc.CreatedAt = time.Now().UTC()
	}
	out, err := scanLegitCheck(s.pool.QueryRow(ctx, `
		INSERT INTO legit_checks (seller_id, buyer_id, rating_id, confirmed, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (rating_id) DO NOTHING
		RETURNING `+legitColumns,
		lc.SellerID, lc.BuyerID, lc.RatingID, lc.Confirmed, lc.CreatedAt))
	if errors.Is(err, ErrNotFound) {
		existing, gerr := s.GetLegitCheckByRating(ctx, lc.RatingID)
		if gerr != nil {
			return LegitCheck{}, Conflict, gerr
		}
		return existing, Conflict, nil
	}
	if err != nil {
		return LegitCheck{}, Inserted, fmt.Errorf("insert legit check for rating %d: %w", lc.RatingID, err)
	}
	return out, Inserted, nil
}

func (s *PostgresStore) GetLegitCheckByRating(ctx context.Context, ratingID int64) (LegitCheck, error) {
	lc, err := scanLegitCheck(s.pool.QueryRow(ctx, `SELECT `+legitColumns+` FROM legit_checks WHERE rating_id = $1`, ratingID))
	if err != nil {
		return LegitCheck{}, fmt.Errorf("get legit check for rating %d: %w", ratingID, err)
	}
	return lc, nil
}

func (s *PostgresStore) ConfirmLegitCheck(ctx context.Context, ratingID int64, at time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE legit_checks SET confirmed = TRUE, confirmed_at = $2
		WHERE rating_id = $1 AND NOT confirmed`, ratingID, at)
	if err != nil {
		return false, fmt.Errorf("confirm legit check for rating %d: %w", ratingID, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetLegitCheckByRating(ctx, ratingID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) DeletePendingLegitCheck(ctx context.Context, ratingID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM legit_checks WHERE rating_id = $1 AND NOT confirmed`, ratingID)
	if err != nil {
		return false, fmt.Errorf("delete legit check for rating %d: %w", ratingID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) DeleteExpiredLegitChecks(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM legit_checks WHERE NOT confirmed AND created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired legit checks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

type pgSellerTx struct {
	tx     pgx.Tx
	seller Seller
}

func (t *pgSellerTx) Seller(ctx context.Context) (Seller, error) { return t.seller, nil }

func (t *pgSellerTx) InsertRating(ctx context.Context, r Rating) (Rating, InsertResult, error) {
	out, err := scanRating(t.tx.QueryRow(ctx, `
		INSERT INTO ratings (seller_id, reviewer_id, quality, delivery, communication, safety, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (seller_id, reviewer_id) DO NOTHING
		RETURNING `+ratingColumns,
		t.seller.ID, r.ReviewerID, r.Scores.Quality, r.Scores.Delivery, r.Scores.Communication, r.Scores.Safety, r.Comment))
	if errors.Is(err, ErrNotFound) {
		return Rating{}, Conflict, nil
	}
	if err != nil {
		return Rating{}, Inserted, fmt.Errorf("insert rating: %w", err)
	}
	return out, Inserted, nil
}

func (t *pgSellerTx) InsertReport(ctx context.Context, r Report) (Report, InsertResult, error) {
	out := Report{SellerID: t.seller.ID, ReporterID: r.ReporterID, Description: r.Description}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO reports (seller_id, reporter_id, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (seller_id, reporter_id) DO NOTHING
		RETURNING id, created_at`,
		t.seller.ID, r.ReporterID, r.Description).Scan(&out.ID, &out.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Report{}, Conflict, nil
	}
	if err != nil {
		return Report{}, Inserted, fmt.Errorf("insert report: %w", err)
	}
	return out, Inserted, nil
}

func (t *pgSellerTx) ListRatings(ctx context.Context) ([]Rating, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+ratingColumns+` FROM ratings WHERE seller_id = $1 ORDER BY id`, t.seller.ID)
	if err != nil {
		return nil, fmt.Errorf("list ratings: %w", err)
	}
	defer rows.Close()
	var out []Rating
	for rows.Next() {
		r, err := scanRating(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rating: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgSellerTx) IncrementReports(ctx context.Context) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`UPDATE sellers SET reports_count = reports_count + 1 WHERE id = $1 RETURNING reports_count`,
		t.seller.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("increment reports: %w", err)
	}
	t.seller.ReportsCount = n
	return n, nil
}

func (t *pgSellerTx) UpdateAggregate(ctx context.Context, agg Aggregate) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE sellers SET avg_rating = $2, rating_count = $3, reports_count = $4, risk_status = $5
		WHERE id = $1`,
		t.seller.ID, agg.AvgRating, agg.RatingCount, agg.ReportsCount, string(agg.RiskStatus))
	if err != nil {
		return fmt.Errorf("update aggregate: %w", err)
	}
	t.seller.AvgRating = agg.AvgRating
	t.seller.RatingCount = agg.RatingCount
	t.seller.ReportsCount = agg.ReportsCount
	t.seller.RiskStatus = agg.RiskStatus
	return nil
}
