// Package settlement closes ended auctions exactly once: the winning bid is
// paid out to the creator, the auction flips to a terminal status, and a
// settlement record pins each sale against concurrent or repeated attempts.
package settlement

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

// Outcome describes how a settlement attempt resolved. Every outcome except
// a transient store failure is final; retrying cannot change it.
type Outcome string

const (
	OutcomeSold           Outcome = "sold"
	OutcomeExpired        Outcome = "expired"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeNotYetEnded    Outcome = "not_yet_ended"
	OutcomeMissing        Outcome = "missing"
)

// SettlementService settles ended auctions.
type SettlementService struct {
	store    store.Store
	notifier notifier.Notifier

	now func() time.Time
}

// NewSettlementService creates a new SettlementService instance
func NewSettlementService(st store.Store, n notifier.Notifier) *SettlementService {
	return &SettlementService{
		store:    st,
		notifier: n,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// settlement is the state a committed settlement leaves behind, collected
// inside the transaction for the post-commit fan-out.
type settlement struct {
	outcome        Outcome
	auction        model.Auction
	winnerID       string
	winnerName     string
	finalPrice     int64
	creatorID      string
	creatorBalance int64
}

// SettleAuction settles one auction. It is safe to call any number of times
// and from any number of workers: the first call past the deadline decides
// the outcome and every later call reports OutcomeAlreadySettled.
//
// A non-nil error is returned only for transient store failures; business
// outcomes, including attempts on missing or still-running auctions, resolve
// to an Outcome with a nil error so callers do not retry them.
func (s *SettlementService) SettleAuction(ctx context.Context, auctionID string) (Outcome, error) {
	if auctionID == "" {
		return "", fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidAuction)
	}

	var st settlement
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		auction, err := tx.LockAuction(auctionID)
		if err != nil {
			return err
		}

		if auction.Status.Terminal() {
			return auctionerrors.ErrAlreadySettled
		}
		if auction.Status != model.StatusActive {
			return fmt.Errorf("service: %w - auction %s is %s", auctionerrors.ErrInvalidAuction, auctionID, auction.Status)
		}
		if s.now().Before(auction.EndsAt) {
			return auctionerrors.ErrNotYetEnded
		}

		// Second guard behind the status check: even if a racing transaction
		// slipped past it, at most one settlement record can exist.
		settled, err := tx.HasSettlement(auctionID)
		if err != nil {
			return err
		}
		if settled {
			return auctionerrors.ErrAlreadySettled
		}

		highest, err := tx.HighestBid(auctionID)
		if errors.Is(err, auctionerrors.ErrNoBids) {
			return s.expire(tx, auction, &st)
		}
		if err != nil {
			return err
		}
		return s.sell(tx, auction, highest, &st)
	})

	switch {
	case err == nil:
		metrics.SettlementsTotal.WithLabelValues(string(st.outcome)).Inc()
		s.publishSettlementEvents(st)
		return st.outcome, nil
	case errors.Is(err, auctionerrors.ErrAlreadySettled):
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeAlreadySettled)).Inc()
		return OutcomeAlreadySettled, nil
	case errors.Is(err, auctionerrors.ErrNotYetEnded):
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeNotYetEnded)).Inc()
		return OutcomeNotYetEnded, nil
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		utils.Warn("settlement requested for unknown auction", map[string]any{"auction": auctionID})
		metrics.SettlementsTotal.WithLabelValues(string(OutcomeMissing)).Inc()
		return OutcomeMissing, nil
	default:
		return "", fmt.Errorf("service: failed to settle auction %s: %w", auctionID, err)
	}
}

// sell transfers the winning amount, already held in escrow, to the creator
// and marks the auction sold.
func (s *SettlementService) sell(tx store.Tx, auction model.Auction, highest model.Bid, st *settlement) error {
	winner, err := tx.LockAccount(highest.BidderID)
	if err != nil {
		return err
	}
	creator, err := tx.LockAccount(auction.CreatorID)
	if err != nil {
		return err
	}

	creator.Balance += highest.Amount
	if err := tx.SaveAccount(creator); err != nil {
		return err
	}
	if err := tx.IncrementWins(winner.AccountID); err != nil {
		return err
	}

	auction.Status = model.StatusSold
	auction.WinnerID = &winner.AccountID
	auction.CurrentPrice = highest.Amount
	if err := tx.SaveAuction(auction); err != nil {
		return err
	}

	if err := tx.InsertSettlement(model.SettlementRecord{
		RecordID:   utils.GenerateID(),
		AuctionID:  auction.AuctionID,
		WinnerID:   winner.AccountID,
		FinalPrice: highest.Amount,
		EndedAt:    auction.EndsAt,
		CreatedAt:  s.now(),
	}); err != nil {
		return err
	}

	*st = settlement{
		outcome:        OutcomeSold,
		auction:        auction,
		winnerID:       winner.AccountID,
		winnerName:     winner.DisplayName,
		finalPrice:     highest.Amount,
		creatorID:      creator.AccountID,
		creatorBalance: creator.Balance,
	}
	return nil
}

// expire closes an auction that ended with no bids. No money moves and no
// settlement record is written; the terminal status alone keeps repeats out.
func (s *SettlementService) expire(tx store.Tx, auction model.Auction, st *settlement) error {
	auction.Status = model.StatusExpired
	if err := tx.SaveAuction(auction); err != nil {
		return err
	}

	*st = settlement{outcome: OutcomeExpired, auction: auction}
	return nil
}

func (s *SettlementService) publishSettlementEvents(st settlement) {
	auctionID := st.auction.AuctionID
	switch st.outcome {
	case OutcomeSold:
		now := s.now()
		s.notifier.Publish(notifier.AuctionChannel(auctionID), notifier.EventAuctionSold, notifier.AuctionSoldEvent{
			AuctionID:  auctionID,
			WinnerID:   st.winnerID,
			WinnerName: st.winnerName,
			FinalPrice: st.finalPrice,
			Timestamp:  now,
		})
		s.notifier.Publish(notifier.AccountChannel(st.winnerID), notifier.EventAuctionWon, notifier.AuctionWonEvent{
			AuctionID:  auctionID,
			Title:      st.auction.Title,
			FinalPrice: st.finalPrice,
			Message:    fmt.Sprintf("You won %s for %s", st.auction.Title, utils.FormatAmount(st.finalPrice)),
		})
		s.notifier.Publish(notifier.AccountChannel(st.creatorID), notifier.EventBalanceUpdated, notifier.BalanceUpdatedEvent{
			AccountID: st.creatorID,
			Balance:   st.creatorBalance,
			Timestamp: now,
		})
	case OutcomeExpired:
		s.notifier.Publish(notifier.AuctionChannel(auctionID), notifier.EventAuctionExpired, notifier.AuctionExpiredEvent{
			AuctionID: auctionID,
		})
	}
}

// ProcessJob adapts SettleAuction to the job queue handler contract. Only
// transient failures propagate, so the queue retries exactly the attempts
// that might still succeed.
func (s *SettlementService) ProcessJob(ctx context.Context, payload any) error {
	p, ok := payload.(jobs.SettlementPayload)
	if !ok {
		return fmt.Errorf("service: unexpected settlement payload %T", payload)
	}

	outcome, err := s.SettleAuction(ctx, p.AuctionID)
	if err != nil {
		return err
	}
	utils.Info("auction settled", map[string]any{"auction": p.AuctionID, "outcome": string(outcome)})
	return nil
}

// GetSettlement returns the settlement record for an auction.
func (s *SettlementService) GetSettlement(ctx context.Context, auctionID string) (model.SettlementRecord, error) {
	if auctionID == "" {
		return model.SettlementRecord{}, fmt.Errorf("service: %w - empty auction ID", auctionerrors.ErrInvalidAuction)
	}

	rec, err := s.store.SettlementByAuction(ctx, auctionID)
	if err != nil {
		return model.SettlementRecord{}, fmt.Errorf("service: failed to get settlement for auction %s: %w", auctionID, err)
	}
	return rec, nil
}
