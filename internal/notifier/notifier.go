// Package notifier defines the outbound event channel the engines publish
// to after commit. Delivery is fire-and-forget and at-least-once; the
// transport (websocket fan-out, push, etc.) lives outside this module.
package notifier

import (
	"sync"
	"time"

	"auction-house/utils"
)

// Event names as seen by connected viewers.
const (
	EventNewBid            = "NEW_BID"
	EventPriceUpdated      = "AUCTION_PRICE_UPDATED"
	EventBalanceUpdated    = "BALANCE_UPDATED"
	EventAuctionSold       = "AUCTION_SOLD"
	EventAuctionWon        = "AUCTION_WON"
	EventAuctionExpired    = "AUCTION_EXPIRED"
	EventAuctionEndingSoon = "AUCTION_ENDING_SOON"
)

// AuctionChannel is the channel all viewers of an auction subscribe to.
func AuctionChannel(auctionID string) string { return "auction:" + auctionID }

// AccountChannel is the private channel of a single account.
func AccountChannel(accountID string) string { return "user:" + accountID }

// Notifier publishes an event to a channel. Implementations must not block
// the caller on delivery and must tolerate duplicate publishes.
type Notifier interface {
	Publish(channel, event string, payload any)
}

// Event payloads. Amounts are minor currency units.

type NewBidEvent struct {
	AuctionID     string    `json:"auction_id"`
	Amount        int64     `json:"amount"`
	BidderName    string    `json:"bidder_name"`
	CurrentPrice  int64     `json:"current_price"`
	BidderBalance int64     `json:"bidder_balance"`
	Timestamp     time.Time `json:"timestamp"`
}

type PriceUpdatedEvent struct {
	AuctionID    string `json:"auction_id"`
	CurrentPrice int64  `json:"current_price"`
}

type BalanceUpdatedEvent struct {
	AccountID string    `json:"account_id"`
	Balance   int64     `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

type AuctionSoldEvent struct {
	AuctionID  string    `json:"auction_id"`
	WinnerID   string    `json:"winner_id"`
	WinnerName string    `json:"winner_name"`
	FinalPrice int64     `json:"final_price"`
	Timestamp  time.Time `json:"timestamp"`
}

type AuctionWonEvent struct {
	AuctionID  string `json:"auction_id"`
	Title      string `json:"title"`
	FinalPrice int64  `json:"final_price"`
	Message    string `json:"message"`
}

type AuctionExpiredEvent struct {
	AuctionID string `json:"auction_id"`
}

type EndingSoonEvent struct {
	AuctionID        string `json:"auction_id"`
	SecondsRemaining int64  `json:"seconds_remaining"`
}

// LogNotifier writes every event to the structured log. It stands in for a
// real delivery transport in single-binary deployments.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) Publish(channel, event string, payload any) {
	utils.Info("event published", map[string]any{
		"channel": channel,
		"event":   event,
		"payload": payload,
	})
}

// Recorder captures published events for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

type RecordedEvent struct {
	Channel string
	Event   string
	Payload any
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Publish(channel, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{Channel: channel, Event: event, Payload: payload})
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RecordedEvent(nil), r.events...)
}

// ByEvent returns the published events with the given name.
func (r *Recorder) ByEvent(event string) []RecordedEvent {
	var out []RecordedEvent
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
