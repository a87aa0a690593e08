package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"auction-house/internal/auctionerrors"
	model "auction-house/internal/models"
)

// DefaultLockWait bounds how long a transaction blocks on a row lock before
// failing with ErrLockTimeout.
const DefaultLockWait = 2 * time.Second

// rowLock is a per-row exclusive lock with bounded acquisition.
type rowLock chan struct{}

func newRowLock() rowLock { return make(rowLock, 1) }

func (l rowLock) acquire(ctx context.Context, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", auctionerrors.ErrLockTimeout, ctx.Err())
	case <-timer.C:
		return auctionerrors.ErrLockTimeout
	}
}

func (l rowLock) release() { <-l }

// MemoryStore is an in-memory Store with the same transactional semantics as
// the SQL-backed store: exclusive per-row locks with a bounded wait, and
// writes staged in a working set that becomes visible atomically on commit.
// It backs tests and single-node runs without a database.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]model.Account
	auctions     map[string]model.Auction
	bids         map[string][]model.Bid
	settlements  map[string]model.SettlementRecord // keyed by auction id
	accountLocks map[string]rowLock
	auctionLocks map[string]rowLock
	lockWait     time.Duration
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]model.Account),
		auctions:     make(map[string]model.Auction),
		bids:         make(map[string][]model.Bid),
		settlements:  make(map[string]model.SettlementRecord),
		accountLocks: make(map[string]rowLock),
		auctionLocks: make(map[string]rowLock),
		lockWait:     DefaultLockWait,
	}
}

// SetLockWait overrides the row-lock acquisition bound. Call before use.
func (s *MemoryStore) SetLockWait(d time.Duration) { s.lockWait = d }

// memoryTx stages all writes; nothing is visible to readers or other
// transactions until commit.
type memoryTx struct {
	s        *MemoryStore
	ctx      context.Context
	held     []rowLock
	auctions map[string]*model.Auction
	accounts map[string]*model.Account
	newBids  []model.Bid
	newRecs  []model.SettlementRecord
}

// WithTx runs fn in a transaction. Any error from fn discards the working
// set; held row locks are released when the transaction ends either way.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memoryTx{
		s:        s,
		ctx:      ctx,
		auctions: make(map[string]*model.Auction),
		accounts: make(map[string]*model.Account),
	}
	defer tx.release()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

func (t *memoryTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.held[i].release()
	}
	t.held = nil
}

func (t *memoryTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// Uniqueness re-check under the store mutex guards against a record
	// committed by a writer that did not hold this auction's row lock.
	for _, rec := range t.newRecs {
		if _, exists := s.settlements[rec.AuctionID]; exists {
			return fmt.Errorf("commit settlement for auction %s: %w", rec.AuctionID, auctionerrors.ErrAlreadySettled)
		}
	}

	for id, a := range t.auctions {
		s.auctions[id] = *a
	}
	for id, acct := range t.accounts {
		s.accounts[id] = *acct
	}
	for _, b := range t.newBids {
		s.bids[b.AuctionID] = append(s.bids[b.AuctionID], b)
	}
	for _, rec := range t.newRecs {
		s.settlements[rec.AuctionID] = rec
	}
	return nil
}

// LockAuction takes the auction's exclusive row lock and returns a fresh
// copy of the row read after the lock was acquired.
func (t *memoryTx) LockAuction(auctionID string) (model.Auction, error) {
	if a, ok := t.auctions[auctionID]; ok {
		return *a, nil
	}

	t.s.mu.RLock()
	l, ok := t.s.auctionLocks[auctionID]
	t.s.mu.RUnlock()
	if !ok {
		return model.Auction{}, fmt.Errorf("lock auction %s: %w", auctionID, auctionerrors.ErrAuctionNotFound)
	}
	if err := l.acquire(t.ctx, t.s.lockWait); err != nil {
		return model.Auction{}, fmt.Errorf("lock auction %s: %w", auctionID, err)
	}
	t.held = append(t.held, l)

	t.s.mu.RLock()
	a := t.s.auctions[auctionID]
	t.s.mu.RUnlock()
	cp := a
	t.auctions[auctionID] = &cp
	return cp, nil
}

func (t *memoryTx) LockAccount(accountID string) (model.Account, error) {
	if a, ok := t.accounts[accountID]; ok {
		return *a, nil
	}

	t.s.mu.RLock()
	l, ok := t.s.accountLocks[accountID]
	t.s.mu.RUnlock()
	if !ok {
		return model.Account{}, fmt.Errorf("lock account %s: %w", accountID, auctionerrors.ErrAccountNotFound)
	}
	if err := l.acquire(t.ctx, t.s.lockWait); err != nil {
		return model.Account{}, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	t.held = append(t.held, l)

	t.s.mu.RLock()
	a := t.s.accounts[accountID]
	t.s.mu.RUnlock()
	cp := a
	t.accounts[accountID] = &cp
	return cp, nil
}

// HighestBid returns the committed bid with the largest amount. Amounts
// never tie because every accepted bid strictly raised the price.
func (t *memoryTx) HighestBid(auctionID string) (model.Bid, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()

	bids := t.s.bids[auctionID]
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("highest bid for auction %s: %w", auctionID, auctionerrors.ErrNoBids)
	}
	highest := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > highest.Amount {
			highest = b
		}
	}
	return highest, nil
}

func (t *memoryTx) InsertBid(b model.Bid) error {
	t.newBids = append(t.newBids, b)
	return nil
}

func (t *memoryTx) SaveAuction(a model.Auction) error {
	if _, ok := t.auctions[a.AuctionID]; !ok {
		return fmt.Errorf("save auction %s: row not locked in this transaction", a.AuctionID)
	}
	cp := a
	t.auctions[a.AuctionID] = &cp
	return nil
}

func (t *memoryTx) SaveAccount(a model.Account) error {
	if _, ok := t.accounts[a.AccountID]; !ok {
		return fmt.Errorf("save account %s: row not locked in this transaction", a.AccountID)
	}
	if a.Balance < 0 {
		return fmt.Errorf("save account %s: balance constraint violated (%d)", a.AccountID, a.Balance)
	}
	cp := a
	t.accounts[a.AccountID] = &cp
	return nil
}

func (t *memoryTx) IncrementWins(accountID string) error {
	acct, ok := t.accounts[accountID]
	if !ok {
		return fmt.Errorf("increment wins for account %s: row not locked in this transaction", accountID)
	}
	acct.TotalWins++
	return nil
}

func (t *memoryTx) HasSettlement(auctionID string) (bool, error) {
	for _, rec := range t.newRecs {
		if rec.AuctionID == auctionID {
			return true, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.settlements[auctionID]
	return ok, nil
}

func (t *memoryTx) InsertSettlement(rec model.SettlementRecord) error {
	has, err := t.HasSettlement(rec.AuctionID)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("insert settlement for auction %s: %w", rec.AuctionID, auctionerrors.ErrAlreadySettled)
	}
	t.newRecs = append(t.newRecs, rec)
	return nil
}

// --- committed-state reads and inserts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.AccountID]; exists {
		return fmt.Errorf("create account %s: already exists", a.AccountID)
	}
	s.accounts[a.AccountID] = a
	s.accountLocks[a.AccountID] = newRowLock()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return model.Account{}, fmt.Errorf("get account %s: %w", accountID, auctionerrors.ErrAccountNotFound)
	}
	return a, nil
}

func (s *MemoryStore) CreateAuction(_ context.Context, a model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.auctions[a.AuctionID]; exists {
		return fmt.Errorf("create auction %s: already exists", a.AuctionID)
	}
	s.auctions[a.AuctionID] = a
	s.auctionLocks[a.AuctionID] = newRowLock()
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, auctionID string) (model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, auctionerrors.ErrAuctionNotFound)
	}
	return a, nil
}

// ListAuctions returns auctions newest-first, optionally filtered by status.
// An empty status matches everything.
func (s *MemoryStore) ListAuctions(_ context.Context, status model.AuctionStatus, limit, offset int) ([]model.Auction, error) {
	s.mu.RLock()
	out := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if status != "" && a.Status != status {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.Auction{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// BidsByAuction returns the auction's bids newest-first.
func (s *MemoryStore) BidsByAuction(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.RLock()
	out := append([]model.Bid(nil), s.bids[auctionID]...)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Amount > out[j].Amount
	})
	return out, nil
}

func (s *MemoryStore) CountBids(_ context.Context, auctionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids[auctionID]), nil
}

func (s *MemoryStore) ExpiredAuctions(_ context.Context, now time.Time) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Auction
	for _, a := range s.auctions {
		if a.Status == model.StatusActive && a.EndsAt.Before(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) AuctionsEndingBefore(_ context.Context, t time.Time) ([]model.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Auction
	for _, a := range s.auctions {
		if a.Status == model.StatusActive && a.EndsAt.Before(t) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) SettlementByAuction(_ context.Context, auctionID string) (model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.settlements[auctionID]
	if !ok {
		return model.SettlementRecord{}, fmt.Errorf("settlement for auction %s: %w", auctionID, auctionerrors.ErrNoSettlement)
	}
	return rec, nil
}
