package bidding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-house/internal/auctionerrors"
	"auction-house/internal/jobs"
	"auction-house/internal/metrics"
	model "auction-house/internal/models"
	"auction-house/internal/notifier"
	"auction-house/internal/store"
	"auction-house/utils"
)

// Anti-sniping: a bid landing within SnipeWindow of the deadline pushes the
// deadline out to now plus SnipeExtension. Extensions stack without a cap.
const (
	SnipeWindow    = 10 * time.Second
	SnipeExtension = 30 * time.Second
)

// MaxBidHistory caps the bid list returned with an auction detail.
const MaxBidHistory = 20

// BiddingService defines the business logic for running auctions: creating
// them, accepting bids with escrow, and serving read views.
type BiddingService struct {
	store    store.Store
	notifier notifier.Notifier
	queue    *jobs.Queue

	// now is the clock used for deadline checks; tests substitute it.
	now func() time.Time
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(st store.Store, n notifier.Notifier, q *jobs.Queue) *BiddingService {
	return &BiddingService{
		store:    st,
		notifier: n,
		queue:    q,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OutbidInfo identifies the previous high bidder displaced by a new bid.
type OutbidInfo struct {
	AccountID  string
	Amount     int64
	NewBalance int64
}

// BidResult is the state a successful bid left behind.
type BidResult struct {
	Bid           model.Bid
	CurrentPrice  int64
	BidderBalance int64
	EndsAt        time.Time
	Extended      bool
	Outbid        *OutbidInfo
}

// PlaceBid validates and records a bid on an auction. The bid amount is
// debited from the bidder's balance and the previous high bidder, when there
// is one and it is a different account, is refunded in the same transaction.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return BidResult{}, fmt.Errorf("service: %w - missing auctionID or bidderID", auctionerrors.ErrInvalidBid)
	}
	if amount <= 0 {
		return BidResult{}, fmt.Errorf("service: %w - non-positive bid amount", auctionerrors.ErrInvalidBid)
	}

	var res BidResult
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		auction, err := tx.LockAuction(auctionID)
		if err != nil {
			return err
		}

		// All checks run against the clock as read after the lock, so a bid
		// that waited behind another cannot act on a stale deadline.
		now := s.now()
		if !now.Before(auction.EndsAt) {
			return fmt.Errorf("service: %w - auction %s closed at %s", auctionerrors.ErrAuctionEnded, auctionID, auction.EndsAt.Format(time.RFC3339))
		}
		if auction.Status != model.StatusActive {
			return fmt.Errorf("service: %w - auction %s is %s", auctionerrors.ErrAuctionNotActive, auctionID, auction.Status)
		}
		if bidderID == auction.CreatorID {
			return fmt.Errorf("service: %w - creator cannot bid on auction %s", auctionerrors.ErrSelfBid, auctionID)
		}
		if amount <= auction.CurrentPrice {
			return fmt.Errorf("service: %w - current price is %s", auctionerrors.ErrBidTooLow, utils.FormatAmount(auction.CurrentPrice))
		}

		bidder, err := tx.LockAccount(bidderID)
		if err != nil {
			return err
		}
		if bidder.Balance < amount {
			return fmt.Errorf("service: %w - balance %s, bid %s", auctionerrors.ErrInsufficientFunds,
				utils.FormatAmount(bidder.Balance), utils.FormatAmount(amount))
		}

		extended := false
		if auction.EndsAt.Sub(now) <= SnipeWindow {
			auction.EndsAt = now.Add(SnipeExtension)
			extended = true
		}

		prev, err := tx.HighestBid(auctionID)
		hasPrev := err == nil
		if err != nil && !errors.Is(err, auctionerrors.ErrNoBids) {
			return fmt.Errorf("service: failed to read highest bid for auction %s: %w", auctionID, err)
		}

		bidder.Balance -= amount
		if err := tx.SaveAccount(bidder); err != nil {
			return err
		}

		var outbid *OutbidInfo
		if hasPrev && prev.BidderID != bidderID {
			prevBidder, err := tx.LockAccount(prev.BidderID)
			if err != nil {
				return err
			}
			prevBidder.Balance += prev.Amount
			if err := tx.SaveAccount(prevBidder); err != nil {
				return err
			}
			outbid = &OutbidInfo{AccountID: prev.BidderID, Amount: prev.Amount, NewBalance: prevBidder.Balance}
		}

		bid := model.Bid{
			BidID:     utils.GenerateID(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: now,
		}
		if err := tx.InsertBid(bid); err != nil {
			return err
		}

		auction.CurrentPrice = amount
		if err := tx.SaveAuction(auction); err != nil {
			return err
		}

		res = BidResult{
			Bid:           bid,
			CurrentPrice:  auction.CurrentPrice,
			BidderBalance: bidder.Balance,
			EndsAt:        auction.EndsAt,
			Extended:      extended,
			Outbid:        outbid,
		}
		return nil
	})
	if err != nil {
		metrics.BidsTotal.WithLabelValues(bidOutcome(err)).Inc()
		return BidResult{}, err
	}

	metrics.BidsTotal.WithLabelValues("accepted").Inc()
	s.publishBidEvents(ctx, auctionID, bidderID, res)
	return res, nil
}

// publishBidEvents emits the fan-out for a committed bid. Everything here is
// best effort and runs outside the transaction.
func (s *BiddingService) publishBidEvents(ctx context.Context, auctionID, bidderID string, res BidResult) {
	bidderName := bidderID
	if acct, err := s.store.GetAccount(ctx, bidderID); err == nil {
		bidderName = acct.DisplayName
	}

	s.notifier.Publish(notifier.AuctionChannel(auctionID), notifier.EventNewBid, notifier.NewBidEvent{
		AuctionID:     auctionID,
		Amount:        res.Bid.Amount,
		BidderName:    bidderName,
		CurrentPrice:  res.CurrentPrice,
		BidderBalance: res.BidderBalance,
		Timestamp:     res.Bid.CreatedAt,
	})
	s.notifier.Publish(notifier.AuctionChannel(auctionID), notifier.EventPriceUpdated, notifier.PriceUpdatedEvent{
		AuctionID:    auctionID,
		CurrentPrice: res.CurrentPrice,
	})
	s.notifier.Publish(notifier.AccountChannel(bidderID), notifier.EventBalanceUpdated, notifier.BalanceUpdatedEvent{
		AccountID: bidderID,
		Balance:   res.BidderBalance,
		Timestamp: res.Bid.CreatedAt,
	})

	if res.Outbid == nil {
		return
	}
	s.notifier.Publish(notifier.AccountChannel(res.Outbid.AccountID), notifier.EventBalanceUpdated, notifier.BalanceUpdatedEvent{
		AccountID: res.Outbid.AccountID,
		Balance:   res.Outbid.NewBalance,
		Timestamp: res.Bid.CreatedAt,
	})
	if s.queue == nil {
		return
	}
	title := ""
	if auction, err := s.store.GetAuction(ctx, auctionID); err == nil {
		title = auction.Title
	}
	s.queue.Enqueue(jobs.QueueOutbid, "outbid-"+res.Bid.BidID, jobs.OutbidPayload{
		AccountID: res.Outbid.AccountID,
		AuctionID: auctionID,
		Title:     title,
		Amount:    res.Bid.Amount,
	}, jobs.Options{Attempts: 3, Backoff: 2 * time.Second})
}

func bidOutcome(err error) string {
	switch {
	case auctionerrors.IsTransient(err):
		return "retryable"
	case errors.Is(err, auctionerrors.ErrBidTooLow):
		return "outbid"
	default:
		return "rejected"
	}
}

// CreateAuctionInput carries the fields needed to open an auction.
type CreateAuctionInput struct {
	Title         string
	Description   string
	StartingPrice int64
	CreatorID     string
	EndsAt        time.Time
}

// CreateAuction opens a new auction in active status. The current price
// starts at the starting price and the deadline must lie in the future.
func (s *BiddingService) CreateAuction(ctx context.Context, in CreateAuctionInput) (model.Auction, error) {
	if in.Title == "" || in.CreatorID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - missing title or creatorID", auctionerrors.ErrInvalidAuction)
	}
	if in.StartingPrice <= 0 {
		return model.Auction{}, fmt.Errorf("service: %w - non-positive starting price", auctionerrors.ErrInvalidAuction)
	}
	now := s.now()
	if !in.EndsAt.After(now) {
		return model.Auction{}, fmt.Errorf("service: %w - deadline must be in the future", auctionerrors.ErrInvalidAuction)
	}

	if _, err := s.store.GetAccount(ctx, in.CreatorID); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to resolve creator %s: %w", in.CreatorID, err)
	}

	auction := model.Auction{
		AuctionID:     utils.GenerateID(),
		Title:         in.Title,
		Description:   in.Description,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		Status:        model.StatusActive,
		CreatorID:     in.CreatorID,
		EndsAt:        in.EndsAt.UTC(),
		CreatedAt:     now,
	}
	if err := s.store.CreateAuction(ctx, auction); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction: %w", err)
	}
	return auction, nil
}

// AuctionDetail is an auction with its most recent bids.
type AuctionDetail struct {
	Auction  model.Auction
	Bids     []model.Bid
	BidCount int
}

// GetAuction returns an auction with up to MaxBidHistory newest bids.
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (AuctionDetail, error) {
	if auctionID == "" {
		return AuctionDetail{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidBid)
	}

	auction, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		return AuctionDetail{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	bids, err := s.store.BidsByAuction(ctx, auctionID)
	if err != nil {
		return AuctionDetail{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}

	count := len(bids)
	if len(bids) > MaxBidHistory {
		bids = bids[:MaxBidHistory]
	}
	return AuctionDetail{Auction: auction, Bids: bids, BidCount: count}, nil
}

// AuctionSummary is the list view of an auction.
type AuctionSummary struct {
	Auction  model.Auction
	BidCount int
}

// ListAuctions returns auctions filtered by status, newest first. An empty
// status returns every auction.
func (s *BiddingService) ListAuctions(ctx context.Context, status model.AuctionStatus, limit, offset int) ([]AuctionSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	auctions, err := s.store.ListAuctions(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list auctions: %w", err)
	}

	summaries := make([]AuctionSummary, 0, len(auctions))
	for _, a := range auctions {
		count, err := s.store.CountBids(ctx, a.AuctionID)
		if err != nil {
			return nil, fmt.Errorf("service: failed to count bids for auction %s: %w", a.AuctionID, err)
		}
		summaries = append(summaries, AuctionSummary{Auction: a, BidCount: count})
	}
	return summaries, nil
}

// GetBidsForAuction returns all bids for a specific auction, newest first.
func (s *BiddingService) GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidBid)
	}

	if _, err := s.store.GetAuction(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	bids, err := s.store.BidsByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the highest bid for a specific auction.
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if auctionID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidBid)
	}

	bids, err := s.store.BidsByAuction(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("service: %w - auction %s has no bids", auctionerrors.ErrNoBids, auctionID)
	}

	winning := bids[0]
	for _, b := range bids[1:] {
		if b.Amount > winning.Amount {
			winning = b
		}
	}
	return winning, nil
}

// CreateAccount registers a bidder account with an opening balance.
func (s *BiddingService) CreateAccount(ctx context.Context, displayName string, openingBalance int64) (model.Account, error) {
	if displayName == "" {
		return model.Account{}, fmt.Errorf("service: %w - empty display name", auctionerrors.ErrInvalidBid)
	}
	if openingBalance < 0 {
		return model.Account{}, fmt.Errorf("service: %w - negative opening balance", auctionerrors.ErrInvalidBid)
	}

	account := model.Account{
		AccountID:   utils.GenerateID(),
		DisplayName: displayName,
		Balance:     openingBalance,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		return model.Account{}, fmt.Errorf("service: failed to create account: %w", err)
	}
	return account, nil
}

// GetAccount returns an account by ID.
func (s *BiddingService) GetAccount(ctx context.Context, accountID string) (model.Account, error) {
	if accountID == "" {
		return model.Account{}, fmt.Errorf("service: %w - empty account ID", auctionerrors.ErrInvalidBid)
	}

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Account{}, fmt.Errorf("service: failed to get account %s: %w", accountID, err)
	}
	return account, nil
}
