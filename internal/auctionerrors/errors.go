package auctionerrors

import "errors"

// Store-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrNoSettlement    = errors.New("no settlement record for auction")
)

// Business rule errors. These are terminal for the request: the caller
// must not retry them.
var (
	ErrInvalidBid        = errors.New("invalid bid")
	ErrBidTooLow         = errors.New("bid amount too low")
	ErrAuctionEnded      = errors.New("auction has ended")
	ErrAuctionNotActive  = errors.New("auction is not active")
	ErrSelfBid           = errors.New("cannot bid on your own auction")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrInvalidAuction    = errors.New("invalid auction")
)

// Settlement idempotency signals. Not failures: an at-least-once job
// system is expected to hit these on redelivery.
var (
	ErrAlreadySettled = errors.New("auction already settled")
	ErrNotYetEnded    = errors.New("auction has not ended yet")
)

// Transient errors. Safe to retry with backoff.
var (
	ErrLockTimeout      = errors.New("timed out waiting for row lock")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// IsTransient reports whether err belongs to the retryable class.
func IsTransient(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrStoreUnavailable)
}
