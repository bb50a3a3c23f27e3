package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"snipebot/internal/auction"
	logx "snipebot/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const auctionCols = `id, listing_number, listing_url, item_title, seller_name,
	current_price_cents, max_bid_cents, currency, end_time, last_price_refresh,
	status, status_detail, outcome, final_price_cents, created_at, updated_at`

func (s *sqliteStore) CreateAuction(ctx context.Context, a *auction.Auction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auctions(`+auctionCols+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ListingNumber, a.ListingURL, a.ItemTitle, nullStr(a.SellerName),
		a.CurrentPrice.Cents(), a.MaxBid.Cents(), a.Currency,
		a.EndTime.UnixMilli(), nullMillis(a.LastPriceRefresh),
		string(a.Status), nullStr(a.StatusDetail), string(a.Outcome), nullCents(a.FinalPrice, a.Outcome),
		a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicate
	}
	return err
}

func (s *sqliteStore) GetAuction(ctx context.Context, id string) (*auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = ?`, id)
	return scanAuction(row)
}

func (s *sqliteStore) GetByListing(ctx context.Context, listingNumber string) (*auction.Auction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+auctionCols+` FROM auctions WHERE listing_number = ?`, listingNumber)
	return scanAuction(row)
}

func (s *sqliteStore) ListAuctions(ctx context.Context) ([]*auction.Auction, error) {
	return s.queryAuctions(ctx, `SELECT `+auctionCols+` FROM auctions ORDER BY end_time`)
}

func (s *sqliteStore) ListDue(ctx context.Context, until time.Time) ([]*auction.Auction, error) {
	return s.queryAuctions(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status IN (?, ?) AND end_time <= ?
		 ORDER BY end_time`,
		string(auction.StatusScheduled), string(auction.StatusExecuting), until.UnixMilli(),
	)
}

func (s *sqliteStore) ListOutcomePending(ctx context.Context, now time.Time) ([]*auction.Auction, error) {
	return s.queryAuctions(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status = ? AND outcome = ? AND end_time <= ?
		 ORDER BY end_time`,
		string(auction.StatusSucceeded), string(auction.OutcomePending), now.UnixMilli(),
	)
}

func (s *sqliteStore) ListStalePrices(ctx context.Context, cutoff time.Time) ([]*auction.Auction, error) {
	return s.queryAuctions(ctx,
		`SELECT `+auctionCols+` FROM auctions
		 WHERE status IN (?, ?) AND (last_price_refresh IS NULL OR last_price_refresh < ?)
		 ORDER BY end_time`,
		string(auction.StatusScheduled), string(auction.StatusExecuting), cutoff.UnixMilli(),
	)
}

func (s *sqliteStore) Transition(ctx context.Context, id string, from, to auction.Status, detail string) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET status = ?, status_detail = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), nullStr(detail), time.Now().UnixMilli(), id, string(from),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqliteStore) ClaimForExecution(ctx context.Context, id string) (bool, error) {
	return s.Transition(ctx, id, auction.StatusScheduled, auction.StatusExecuting, "")
}

func (s *sqliteStore) RefreshListing(ctx context.Context, a *auction.Auction, at time.Time) error {
	// Refreshing a Cancelled/Failed/PreflightSkipped auction is forbidden;
	// the WHERE clause makes the write a silent no-op in that case.
	_, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET
			current_price_cents = ?, currency = ?, listing_url = ?, item_title = ?,
			seller_name = ?, end_time = ?, last_price_refresh = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		a.CurrentPrice.Cents(), a.Currency, a.ListingURL, a.ItemTitle,
		nullStr(a.SellerName), a.EndTime.UnixMilli(), at.UnixMilli(), at.UnixMilli(),
		a.ID,
		string(auction.StatusCancelled), string(auction.StatusFailed), string(auction.StatusPreflightSkipped),
	)
	return err
}

func (s *sqliteStore) SetOutcome(ctx context.Context, id string, oc auction.Outcome, finalPrice auction.Money) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET outcome = ?, final_price_cents = ?, updated_at = ? WHERE id = ?`,
		string(oc), finalPrice.Cents(), time.Now().UnixMilli(), id,
	)
	return err
}

func (s *sqliteStore) SaveAttempt(ctx context.Context, at auction.BidAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bid_attempts(auction_id, attempt_time, result, error_message)
		 VALUES(?,?,?,?)
		 ON CONFLICT(auction_id) DO UPDATE SET
			attempt_time = excluded.attempt_time,
			result = excluded.result,
			error_message = excluded.error_message`,
		at.AuctionID, at.AttemptTime.UnixMilli(), string(at.Result), nullStr(at.ErrorMessage),
	)
	return err
}

func (s *sqliteStore) GetAttempt(ctx context.Context, auctionID string) (*auction.BidAttempt, error) {
	var (
		at       auction.BidAttempt
		attempt  int64
		result   string
		errMsg   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT auction_id, attempt_time, result, error_message FROM bid_attempts WHERE auction_id = ?`,
		auctionID,
	).Scan(&at.AuctionID, &attempt, &result, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	at.AttemptTime = time.UnixMilli(attempt).UTC()
	at.Result = auction.AttemptResult(result)
	at.ErrorMessage = errMsg.String
	return &at, nil
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, event, auction_id, listing_number, detail)
		 VALUES(?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Event, nullStr(e.AuctionID), nullStr(e.ListingNumber), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) queryAuctions(ctx context.Context, q string, args ...any) ([]*auction.Auction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var (
		a          auction.Auction
		seller     sql.NullString
		detail     sql.NullString
		priceCents int64
		maxCents   int64
		endMillis  int64
		refresh    sql.NullInt64
		finalCents sql.NullInt64
		status     string
		outcome    string
		created    int64
		updated    int64
	)
	err := row.Scan(
		&a.ID, &a.ListingNumber, &a.ListingURL, &a.ItemTitle, &seller,
		&priceCents, &maxCents, &a.Currency, &endMillis, &refresh,
		&status, &detail, &outcome, &finalCents, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SellerName = seller.String
	a.StatusDetail = detail.String
	a.CurrentPrice = auction.Money(priceCents)
	a.MaxBid = auction.Money(maxCents)
	a.EndTime = time.UnixMilli(endMillis).UTC()
	if refresh.Valid {
		a.LastPriceRefresh = time.UnixMilli(refresh.Int64).UTC()
	}
	a.Status = auction.Status(status)
	a.Outcome = auction.Outcome(outcome)
	if finalCents.Valid {
		a.FinalPrice = auction.Money(finalCents.Int64)
	}
	a.CreatedAt = time.UnixMilli(created).UTC()
	a.UpdatedAt = time.UnixMilli(updated).UTC()
	return &a, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullCents(m auction.Money, oc auction.Outcome) any {
	if oc == auction.OutcomePending || oc == "" {
		return nil
	}
	return m.Cents()
}
