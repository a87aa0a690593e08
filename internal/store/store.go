package store

import (
	"context"
	"time"

	model "auction-house/internal/models"
)

// Store is the ledger boundary for the auction house: durable, transactional
// storage for accounts, auctions, bids and settlement records. Mutations to
// money-bearing state happen only through WithTx; the remaining methods read
// committed state or insert independent rows and are used by the API layer
// and the expiry scanner.
type Store interface {
	// WithTx runs fn inside a single transaction. If fn returns an error the
	// transaction is rolled back and no effects are visible; otherwise all
	// effects commit together. Row locks taken through the Tx are held until
	// the transaction ends.
	WithTx(ctx context.Context, fn func(Tx) error) error

	CreateAccount(ctx context.Context, a model.Account) error
	GetAccount(ctx context.Context, accountID string) (model.Account, error)

	CreateAuction(ctx context.Context, a model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListAuctions(ctx context.Context, status model.AuctionStatus, limit, offset int) ([]model.Auction, error)

	// BidsByAuction returns the auction's bids newest-first.
	BidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	CountBids(ctx context.Context, auctionID string) (int, error)

	// ExpiredAuctions returns active auctions whose deadline lies before now.
	ExpiredAuctions(ctx context.Context, now time.Time) ([]model.Auction, error)
	// AuctionsEndingBefore returns active auctions whose deadline lies before t.
	AuctionsEndingBefore(ctx context.Context, t time.Time) ([]model.Auction, error)

	SettlementByAuction(ctx context.Context, auctionID string) (model.SettlementRecord, error)
}

// Tx is a single open transaction. Lock methods take an exclusive row lock
// with a bounded wait; a wait that exceeds the store's lock timeout fails
// with ErrLockTimeout, which the caller treats as retryable. Writes become
// visible only when the surrounding WithTx commits.
//
// Lock discipline: callers acquire the auction row first and account rows
// only while holding it, so two operations on the same auction can never
// interleave their read-modify-write.
type Tx interface {
	LockAuction(auctionID string) (model.Auction, error)
	LockAccount(accountID string) (model.Account, error)

	// HighestBid returns the committed bid with the largest amount for the
	// auction, or ErrNoBids when none exists.
	HighestBid(auctionID string) (model.Bid, error)

	InsertBid(b model.Bid) error
	SaveAuction(a model.Auction) error
	SaveAccount(a model.Account) error
	// IncrementWins bumps the win counter of a locked account.
	IncrementWins(accountID string) error

	HasSettlement(auctionID string) (bool, error)
	// InsertSettlement fails with ErrAlreadySettled if a record for the same
	// auction already exists; uniqueness survives commit races.
	InsertSettlement(rec model.SettlementRecord) error
}
