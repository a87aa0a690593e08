// Package postgres implements the ledger store on PostgreSQL. Row locks use
// SELECT ... FOR UPDATE with a session lock_timeout so that a contended lock
// surfaces as a retryable failure instead of an unbounded wait.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auction-house/internal/auctionerrors"
	model "auction-house/internal/models"
	"auction-house/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a pgx-backed implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the database at url.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// RunMigrations applies embedded *.up.sql files that have not been applied yet.
func (s *Store) RunMigrations(ctx context.Context) error {
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version text PRIMARY KEY)`); err != nil {
		return err
	}
	for _, f := range files {
		name := f.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var applied bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, name).Scan(&applied); err != nil {
			return err
		}
		if applied {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, name); err != nil {
			return err
		}
	}
	return nil
}

// WithTx runs fn in a repeatable-read transaction with a bounded lock wait.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return mapError(err)
	}
	if _, err := tx.Exec(ctx, `SET LOCAL lock_timeout = '3s'`); err != nil {
		_ = tx.Rollback(ctx)
		return mapError(err)
	}
	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

// mapError translates driver failures into the store error taxonomy.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03": // lock_not_available
			return fmt.Errorf("%w: %v", auctionerrors.ErrLockTimeout, err)
		case "23505": // unique_violation: one settlement per auction
			if pgErr.ConstraintName == "settlements_auction_id_key" {
				return fmt.Errorf("%w: %v", auctionerrors.ErrAlreadySettled, err)
			}
			return err
		}
		return err
	}
	return fmt.Errorf("%w: %v", auctionerrors.ErrStoreUnavailable, err)
}

type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

const auctionCols = `auction_id, title, description, starting_price, current_price, status, creator_id, winner_id, ends_at, created_at`

func scanAuction(row pgx.Row) (model.Auction, error) {
	var a model.Auction
	var status string
	err := row.Scan(&a.AuctionID, &a.Title, &a.Description, &a.StartingPrice, &a.CurrentPrice,
		&status, &a.CreatorID, &a.WinnerID, &a.EndsAt, &a.CreatedAt)
	a.Status = model.AuctionStatus(status)
	return a, err
}

func (t *pgTx) LockAuction(auctionID string) (model.Auction, error) {
	a, err := scanAuction(t.tx.QueryRow(t.ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE auction_id=$1 FOR UPDATE`, auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("lock auction %s: %w", auctionID, auctionerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("lock auction %s: %w", auctionID, mapError(err))
	}
	return a, nil
}

func (t *pgTx) LockAccount(accountID string) (model.Account, error) {
	var a model.Account
	err := t.tx.QueryRow(t.ctx,
		`SELECT account_id, display_name, balance, total_wins, created_at
		   FROM accounts WHERE account_id=$1 FOR UPDATE`, accountID,
	).Scan(&a.AccountID, &a.DisplayName, &a.Balance, &a.TotalWins, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("lock account %s: %w", accountID, auctionerrors.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("lock account %s: %w", accountID, mapError(err))
	}
	return a, nil
}

func (t *pgTx) HighestBid(auctionID string) (model.Bid, error) {
	var b model.Bid
	err := t.tx.QueryRow(t.ctx,
		`SELECT bid_id, auction_id, bidder_id, amount, created_at
		   FROM bids WHERE auction_id=$1 ORDER BY amount DESC LIMIT 1`, auctionID,
	).Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Bid{}, fmt.Errorf("highest bid for auction %s: %w", auctionID, auctionerrors.ErrNoBids)
	}
	if err != nil {
		return model.Bid{}, mapError(err)
	}
	return b, nil
}

func (t *pgTx) InsertBid(b model.Bid) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO bids(bid_id, auction_id, bidder_id, amount, created_at) VALUES($1,$2,$3,$4,$5)`,
		b.BidID, b.AuctionID, b.BidderID, b.Amount, b.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) SaveAuction(a model.Auction) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE auctions SET current_price=$2, status=$3, winner_id=$4, ends_at=$5 WHERE auction_id=$1`,
		a.AuctionID, a.CurrentPrice, string(a.Status), a.WinnerID, a.EndsAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) SaveAccount(a model.Account) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE accounts SET balance=$2, total_wins=$3 WHERE account_id=$1`,
		a.AccountID, a.Balance, a.TotalWins)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) IncrementWins(accountID string) error {
	_, err := t.tx.Exec(t.ctx,
		`UPDATE accounts SET total_wins = total_wins + 1 WHERE account_id=$1`, accountID)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (t *pgTx) HasSettlement(auctionID string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(t.ctx,
		`SELECT EXISTS(SELECT 1 FROM settlements WHERE auction_id=$1)`, auctionID,
	).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	return exists, nil
}

func (t *pgTx) InsertSettlement(rec model.SettlementRecord) error {
	_, err := t.tx.Exec(t.ctx,
		`INSERT INTO settlements(record_id, auction_id, winner_id, final_price, ended_at, created_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		rec.RecordID, rec.AuctionID, rec.WinnerID, rec.FinalPrice, rec.EndedAt, rec.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

// --- committed-state reads and inserts ---

func (s *Store) CreateAccount(ctx context.Context, a model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts(account_id, display_name, balance, total_wins, created_at) VALUES($1,$2,$3,$4,$5)`,
		a.AccountID, a.DisplayName, a.Balance, a.TotalWins, a.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT account_id, display_name, balance, total_wins, created_at FROM accounts WHERE account_id=$1`,
		accountID,
	).Scan(&a.AccountID, &a.DisplayName, &a.Balance, &a.TotalWins, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, fmt.Errorf("get account %s: %w", accountID, auctionerrors.ErrAccountNotFound)
	}
	if err != nil {
		return model.Account{}, mapError(err)
	}
	return a, nil
}

func (s *Store) CreateAuction(ctx context.Context, a model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions(`+auctionCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.AuctionID, a.Title, a.Description, a.StartingPrice, a.CurrentPrice,
		string(a.Status), a.CreatorID, a.WinnerID, a.EndsAt, a.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE auction_id=$1`, auctionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, auctionerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, mapError(err)
	}
	return a, nil
}

func (s *Store) ListAuctions(ctx context.Context, status model.AuctionStatus, limit, offset int) ([]model.Auction, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+auctionCols+` FROM auctions ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+auctionCols+` FROM auctions WHERE status=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			string(status), limit, offset)
	}
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func collectAuctions(rows pgx.Rows) ([]model.Auction, error) {
	out := []model.Auction{}
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) BidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT bid_id, auction_id, bidder_id, amount, created_at FROM bids WHERE auction_id=$1 ORDER BY created_at DESC, amount DESC`,
		auctionID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []model.Bid{}
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) CountBids(ctx context.Context, auctionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM bids WHERE auction_id=$1`, auctionID).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *Store) ExpiredAuctions(ctx context.Context, now time.Time) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE status=$1 AND ends_at < $2`,
		string(model.StatusActive), now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func (s *Store) AuctionsEndingBefore(ctx context.Context, t time.Time) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE status=$1 AND ends_at < $2`,
		string(model.StatusActive), t)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()
	return collectAuctions(rows)
}

func (s *Store) SettlementByAuction(ctx context.Context, auctionID string) (model.SettlementRecord, error) {
	var rec model.SettlementRecord
	err := s.pool.QueryRow(ctx,
		`SELECT record_id, auction_id, winner_id, final_price, ended_at, created_at
		   FROM settlements WHERE auction_id=$1`, auctionID,
	).Scan(&rec.RecordID, &rec.AuctionID, &rec.WinnerID, &rec.FinalPrice, &rec.EndedAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SettlementRecord{}, fmt.Errorf("settlement for auction %s: %w", auctionID, auctionerrors.ErrNoSettlement)
	}
	if err != nil {
		return model.SettlementRecord{}, mapError(err)
	}
	return rec, nil
}
