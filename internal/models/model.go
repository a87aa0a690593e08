package models

import "time"

// All monetary values are fixed-point with two decimals, stored as int64
// minor units (cents). Arithmetic on balances and prices must never go
// through floating point.

// Account represents a participant in the auction house. Balance is the
// available (non-escrowed) amount; funds held for a live high bid are not
// part of Balance.
type Account struct {
	AccountID   string    `json:"account_id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	TotalWins   int       `json:"total_wins"`
	CreatedAt   time.Time `json:"created_at"`
}

// AuctionStatus is the lifecycle state of an auction. Transitions are
// one-directional: draft -> active -> sold|expired.
type AuctionStatus string

const (
	StatusDraft   AuctionStatus = "draft"
	StatusActive  AuctionStatus = "active"
	StatusSold    AuctionStatus = "sold"
	StatusExpired AuctionStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s AuctionStatus) Terminal() bool {
	return s == StatusSold || s == StatusExpired
}

// Auction represents a single listed item. CurrentPrice always equals the
// amount of the highest committed bid, or StartingPrice when no bid exists.
// EndsAt is mutable: anti-sniping extensions push it forward.
type Auction struct {
	AuctionID     string        `json:"auction_id"`
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	StartingPrice int64         `json:"starting_price"`
	CurrentPrice  int64         `json:"current_price"`
	Status        AuctionStatus `json:"status"`
	CreatorID     string        `json:"creator_id"`
	WinnerID      *string       `json:"winner_id,omitempty"`
	EndsAt        time.Time     `json:"ends_at"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Bid represents an accepted bid. Bids are immutable once committed; they
// are never updated or deleted. Each accepted bid strictly exceeds the
// auction's current price at commit time, so amounts never tie.
type Bid struct {
	BidID     string    `json:"bid_id"`
	AuctionID string    `json:"auction_id"`
	BidderID  string    `json:"bidder_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

// SettlementRecord is the win-history row written when an auction is sold.
// At most one record exists per auction; its existence is the durable
// marker that settlement has already happened.
type SettlementRecord struct {
	RecordID   string    `json:"record_id"`
	AuctionID  string    `json:"auction_id"`
	WinnerID   string    `json:"winner_id"`
	FinalPrice int64     `json:"final_price"`
	EndedAt    time.Time `json:"ended_at"`
	CreatedAt  time.Time `json:"created_at"`
}
