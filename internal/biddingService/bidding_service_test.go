package bidding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"auction-house/internal/auctionerrors"
	model "auction-house/internal/models"
	"auction-house/internal/notifier"
	"auction-house/internal/store"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newMockService wires a BiddingService onto a mock store with a fixed clock.
func newMockService(t *testing.T) (*BiddingService, *store.MockStore, *store.MockTx, time.Time) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockStore := store.NewMockStore(ctrl)
	mockTx := store.NewMockTx(ctrl)
	service := NewBiddingService(mockStore, notifier.NewRecorder(), nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	// WithTx just runs fn against the mock transaction; commit always wins
	// because fn returning nil is the only success path the service has.
	mockStore.EXPECT().WithTx(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, fn func(store.Tx) error) error {
			return fn(mockTx)
		}).AnyTimes()

	return service, mockStore, mockTx, now
}

// Tests PlaceBid
func TestBiddingService_PlaceBid_Preconditions(t *testing.T) {
	baseAuction := func(now time.Time) model.Auction {
		return model.Auction{
			AuctionID:    "auction1",
			Title:        "title1",
			CurrentPrice: 100,
			Status:       model.StatusActive,
			CreatorID:    "creator1",
			EndsAt:       now.Add(time.Hour),
		}
	}

	tests := []struct {
		name          string
		auctionID     string
		bidderID      string
		amount        int64
		mockSetup     func(tx *store.MockTx, now time.Time)
		expectedError error
	}{
		{
			name:          "empty_auctionID",
			auctionID:     "",
			bidderID:      "user1",
			amount:        150,
			mockSetup:     func(tx *store.MockTx, now time.Time) {},
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:          "empty_bidderID",
			auctionID:     "auction1",
			bidderID:      "",
			amount:        150,
			mockSetup:     func(tx *store.MockTx, now time.Time) {},
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:          "zero_amount",
			auctionID:     "auction1",
			bidderID:      "user1",
			amount:        0,
			mockSetup:     func(tx *store.MockTx, now time.Time) {},
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:          "negative_amount",
			auctionID:     "auction1",
			bidderID:      "user1",
			amount:        -50,
			mockSetup:     func(tx *store.MockTx, now time.Time) {},
			expectedError: auctionerrors.ErrInvalidBid,
		},
		{
			name:      "auction_not_found",
			auctionID: "missing",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("missing").Return(model.Auction{}, auctionerrors.ErrAuctionNotFound)
			},
			expectedError: auctionerrors.ErrAuctionNotFound,
		},
		{
			name:      "auction_not_active",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				a := baseAuction(now)
				a.Status = model.StatusSold
				tx.EXPECT().LockAuction("auction1").Return(a, nil)
			},
			expectedError: auctionerrors.ErrAuctionNotActive,
		},
		{
			// Past the deadline the auction reads as ended even when a
			// settlement already flipped the status.
			name:      "sold_auction_past_deadline",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				a := baseAuction(now)
				a.Status = model.StatusSold
				a.EndsAt = now.Add(-time.Minute)
				tx.EXPECT().LockAuction("auction1").Return(a, nil)
			},
			expectedError: auctionerrors.ErrAuctionEnded,
		},
		{
			name:      "auction_ended",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				a := baseAuction(now)
				a.EndsAt = now.Add(-time.Second)
				tx.EXPECT().LockAuction("auction1").Return(a, nil)
			},
			expectedError: auctionerrors.ErrAuctionEnded,
		},
		{
			name:      "deadline_exactly_now",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				a := baseAuction(now)
				a.EndsAt = now
				tx.EXPECT().LockAuction("auction1").Return(a, nil)
			},
			expectedError: auctionerrors.ErrAuctionEnded,
		},
		{
			name:      "creator_self_bid",
			auctionID: "auction1",
			bidderID:  "creator1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("auction1").Return(baseAuction(now), nil)
			},
			expectedError: auctionerrors.ErrSelfBid,
		},
		{
			name:      "bid_equal_to_current_price",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    100,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("auction1").Return(baseAuction(now), nil)
			},
			expectedError: auctionerrors.ErrBidTooLow,
		},
		{
			name:      "bidder_not_found",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("auction1").Return(baseAuction(now), nil)
				tx.EXPECT().LockAccount("user1").Return(model.Account{}, auctionerrors.ErrAccountNotFound)
			},
			expectedError: auctionerrors.ErrAccountNotFound,
		},
		{
			name:      "insufficient_funds",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("auction1").Return(baseAuction(now), nil)
				tx.EXPECT().LockAccount("user1").Return(model.Account{AccountID: "user1", Balance: 149}, nil)
			},
			expectedError: auctionerrors.ErrInsufficientFunds,
		},
		{
			name:      "lock_timeout_is_retryable",
			auctionID: "auction1",
			bidderID:  "user1",
			amount:    150,
			mockSetup: func(tx *store.MockTx, now time.Time) {
				tx.EXPECT().LockAuction("auction1").Return(model.Auction{}, auctionerrors.ErrLockTimeout)
			},
			expectedError: auctionerrors.ErrLockTimeout,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			service, _, mockTx, now := newMockService(t)
			tc.mockSetup(mockTx, now)

			_, err := service.PlaceBid(context.Background(), tc.auctionID, tc.bidderID, tc.amount)
			require.Error(t, err)
			require.ErrorIs(t, err, tc.expectedError)
		})
	}
}

// seedService builds a BiddingService on a real in-memory store with one
// active auction and two funded bidders.
func seedService(t *testing.T, endsIn time.Duration) (*BiddingService, *store.MemoryStore, *notifier.Recorder, time.Time) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	rec := notifier.NewRecorder()
	service := NewBiddingService(s, rec, nil)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }

	require.NoError(t, s.CreateAccount(ctx, model.Account{AccountID: "creator", DisplayName: "Carol", Balance: 0, CreatedAt: now}))
	require.NoError(t, s.CreateAccount(ctx, model.Account{AccountID: "alice", DisplayName: "Alice", Balance: 1000, CreatedAt: now}))
	require.NoError(t, s.CreateAccount(ctx, model.Account{AccountID: "bob", DisplayName: "Bob", Balance: 1000, CreatedAt: now}))
	require.NoError(t, s.CreateAuction(ctx, model.Auction{
		AuctionID:     "auction1",
		Title:         "title1",
		StartingPrice: 100,
		CurrentPrice:  100,
		Status:        model.StatusActive,
		CreatorID:     "creator",
		EndsAt:        now.Add(endsIn),
		CreatedAt:     now,
	}))
	return service, s, rec, now
}

func TestBiddingService_PlaceBid_FirstBidHoldsEscrow(t *testing.T) {
	service, s, rec, now := seedService(t, time.Hour)
	ctx := context.Background()

	res, err := service.PlaceBid(ctx, "auction1", "alice", 150)
	require.NoError(t, err)

	require.NotEmpty(t, res.Bid.BidID)
	_, parseErr := uuid.Parse(res.Bid.BidID)
	require.NoError(t, parseErr, "BidID should be a valid UUID")
	require.Equal(t, int64(150), res.CurrentPrice)
	require.Equal(t, int64(850), res.BidderBalance)
	require.False(t, res.Extended)
	require.Nil(t, res.Outbid)
	require.Equal(t, now.Add(time.Hour), res.EndsAt)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(850), alice.Balance)

	auction, err := s.GetAuction(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, int64(150), auction.CurrentPrice)

	require.Len(t, rec.ByEvent(notifier.EventNewBid), 1)
	require.Len(t, rec.ByEvent(notifier.EventPriceUpdated), 1)
	require.Len(t, rec.ByEvent(notifier.EventBalanceUpdated), 1)
}

func TestBiddingService_PlaceBid_RefundsPreviousBidder(t *testing.T) {
	service, s, rec, _ := seedService(t, time.Hour)
	ctx := context.Background()

	_, err := service.PlaceBid(ctx, "auction1", "alice", 150)
	require.NoError(t, err)

	res, err := service.PlaceBid(ctx, "auction1", "bob", 200)
	require.NoError(t, err)
	require.NotNil(t, res.Outbid)
	require.Equal(t, "alice", res.Outbid.AccountID)
	require.Equal(t, int64(150), res.Outbid.Amount)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1000), alice.Balance, "previous bidder fully refunded")

	bob, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(800), bob.Balance)

	// Both the refund and the debit produce balance events.
	require.Len(t, rec.ByEvent(notifier.EventBalanceUpdated), 3)
}

func TestBiddingService_PlaceBid_RejectedBidLeavesNoTrace(t *testing.T) {
	service, s, _, _ := seedService(t, time.Hour)
	ctx := context.Background()

	_, err := service.PlaceBid(ctx, "auction1", "alice", 110)
	require.NoError(t, err)

	// Bob undercuts the current price; nothing about his account or the
	// auction changes.
	_, err = service.PlaceBid(ctx, "auction1", "bob", 105)
	require.ErrorIs(t, err, auctionerrors.ErrBidTooLow)

	bob, err := s.GetAccount(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, int64(1000), bob.Balance)

	res, err := service.PlaceBid(ctx, "auction1", "bob", 120)
	require.NoError(t, err)
	require.Equal(t, int64(120), res.CurrentPrice)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(1000), alice.Balance)

	count, err := s.CountBids(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, 2, count, "rejected bid is not recorded")
}

func TestBiddingService_PlaceBid_SelfRaiseHoldsBothBids(t *testing.T) {
	service, s, _, _ := seedService(t, time.Hour)
	ctx := context.Background()

	_, err := service.PlaceBid(ctx, "auction1", "alice", 150)
	require.NoError(t, err)

	// Raising one's own high bid holds the new amount as well; no refund
	// happens because the previous high bidder is the same account.
	res, err := service.PlaceBid(ctx, "auction1", "alice", 200)
	require.NoError(t, err)
	require.Nil(t, res.Outbid)

	alice, err := s.GetAccount(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(650), alice.Balance)
}

func TestBiddingService_PlaceBid_AntiSnipeExtension(t *testing.T) {
	tests := []struct {
		name         string
		endsIn       time.Duration
		wantExtended bool
	}{
		{name: "outside_window", endsIn: SnipeWindow + time.Second, wantExtended: false},
		{name: "exactly_at_window", endsIn: SnipeWindow, wantExtended: true},
		{name: "inside_window", endsIn: 3 * time.Second, wantExtended: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			service, s, _, now := seedService(t, tc.endsIn)
			ctx := context.Background()

			res, err := service.PlaceBid(ctx, "auction1", "alice", 150)
			require.NoError(t, err)
			require.Equal(t, tc.wantExtended, res.Extended)

			auction, err := s.GetAuction(ctx, "auction1")
			require.NoError(t, err)
			if tc.wantExtended {
				require.Equal(t, now.Add(SnipeExtension), auction.EndsAt)
			} else {
				require.Equal(t, now.Add(tc.endsIn), auction.EndsAt)
			}
		})
	}
}

func TestBiddingService_PlaceBid_ExtensionsStack(t *testing.T) {
	service, s, _, start := seedService(t, 5*time.Second)
	ctx := context.Background()

	// Each bid lands just inside the window of the deadline set by the
	// previous extension; the deadline keeps moving with no cap.
	now := start
	service.now = func() time.Time { return now }

	amount := int64(100)
	for i := 0; i < 5; i++ {
		amount += 50
		bidder := "alice"
		if i%2 == 1 {
			bidder = "bob"
		}
		res, err := service.PlaceBid(ctx, "auction1", bidder, amount)
		require.NoError(t, err)
		require.True(t, res.Extended)
		require.Equal(t, now.Add(SnipeExtension), res.EndsAt)

		now = res.EndsAt.Add(-2 * time.Second)
	}

	auction, err := s.GetAuction(ctx, "auction1")
	require.NoError(t, err)
	require.True(t, auction.EndsAt.After(start.Add(time.Minute)))
}

func TestBiddingService_PlaceBid_ConcurrentBidsConserveMoney(t *testing.T) {
	service, s, _, _ := seedService(t, time.Hour)
	ctx := context.Background()

	const bidders = 10
	const bidsPerBidder = 5

	for i := 0; i < bidders; i++ {
		id := fmt.Sprintf("user%d", i)
		require.NoError(t, s.CreateAccount(ctx, model.Account{AccountID: id, DisplayName: id, Balance: 100_000}))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user%d", i)
			for j := 0; j < bidsPerBidder; j++ {
				amount := int64(100 + i*7 + j*113)
				_, err := service.PlaceBid(ctx, "auction1", id, amount)
				if err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
					continue
				}
				require.True(t,
					errors.Is(err, auctionerrors.ErrBidTooLow) || auctionerrors.IsTransient(err),
					"unexpected bid failure: %v", err)
			}
		}(i)
	}
	wg.Wait()
	require.Positive(t, accepted)

	auction, err := s.GetAuction(ctx, "auction1")
	require.NoError(t, err)

	highest, err := service.GetWinningBid(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, highest.Amount, auction.CurrentPrice, "current price equals highest accepted bid")

	// Accepted bids were strictly increasing in commit order: replaying the
	// history newest-first must decrease monotonically.
	bids, err := s.BidsByAuction(ctx, "auction1")
	require.NoError(t, err)
	require.Len(t, bids, accepted)
	for i := 1; i < len(bids); i++ {
		require.Greater(t, bids[i-1].Amount, bids[i].Amount)
	}

	// Replay the escrow ledger oldest-first: every bid is held, and the
	// previous hold is released only when a different bidder took over.
	outstanding := int64(0)
	var prevBidder string
	var prevAmount int64
	for i := len(bids) - 1; i >= 0; i-- {
		b := bids[i]
		outstanding += b.Amount
		if prevBidder != "" && prevBidder != b.BidderID {
			outstanding -= prevAmount
		}
		prevBidder, prevAmount = b.BidderID, b.Amount
	}

	var total int64
	for i := 0; i < bidders; i++ {
		acct, err := s.GetAccount(ctx, fmt.Sprintf("user%d", i))
		require.NoError(t, err)
		total += acct.Balance
	}
	require.Equal(t, int64(bidders)*100_000-outstanding, total, "balances short by exactly the outstanding holds")
}

// Tests CreateAuction
func TestBiddingService_CreateAuction(t *testing.T) {
	service, s, _, now := seedService(t, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name          string
		input         CreateAuctionInput
		expectedError error
	}{
		{
			name: "valid",
			input: CreateAuctionInput{
				Title:         "new item",
				StartingPrice: 500,
				CreatorID:     "creator",
				EndsAt:        now.Add(time.Hour),
			},
		},
		{
			name:          "missing_title",
			input:         CreateAuctionInput{StartingPrice: 500, CreatorID: "creator", EndsAt: now.Add(time.Hour)},
			expectedError: auctionerrors.ErrInvalidAuction,
		},
		{
			name:          "zero_starting_price",
			input:         CreateAuctionInput{Title: "x", CreatorID: "creator", EndsAt: now.Add(time.Hour)},
			expectedError: auctionerrors.ErrInvalidAuction,
		},
		{
			name:          "deadline_in_past",
			input:         CreateAuctionInput{Title: "x", StartingPrice: 500, CreatorID: "creator", EndsAt: now.Add(-time.Second)},
			expectedError: auctionerrors.ErrInvalidAuction,
		},
		{
			name:          "unknown_creator",
			input:         CreateAuctionInput{Title: "x", StartingPrice: 500, CreatorID: "ghost", EndsAt: now.Add(time.Hour)},
			expectedError: auctionerrors.ErrAccountNotFound,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			auction, err := service.CreateAuction(ctx, tc.input)
			if tc.expectedError != nil {
				require.Error(t, err)
				require.ErrorIs(t, err, tc.expectedError)
				return
			}
			require.NoError(t, err)
			require.Equal(t, model.StatusActive, auction.Status)
			require.Equal(t, tc.input.StartingPrice, auction.CurrentPrice)

			stored, err := s.GetAuction(ctx, auction.AuctionID)
			require.NoError(t, err)
			require.Equal(t, auction.AuctionID, stored.AuctionID)
		})
	}
}

// Tests GetAuction
func TestBiddingService_GetAuction_CapsBidHistory(t *testing.T) {
	service, _, _, _ := seedService(t, time.Hour)
	ctx := context.Background()

	for i := 0; i < MaxBidHistory+5; i++ {
		bidder := "alice"
		if i%2 == 1 {
			bidder = "bob"
		}
		_, err := service.PlaceBid(ctx, "auction1", bidder, int64(101+i))
		require.NoError(t, err)
	}

	detail, err := service.GetAuction(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, MaxBidHistory+5, detail.BidCount)
	require.Len(t, detail.Bids, MaxBidHistory)
	require.Equal(t, int64(100+MaxBidHistory+5), detail.Bids[0].Amount, "newest bid first")
}

// Tests GetWinningBid
func TestBiddingService_GetWinningBid(t *testing.T) {
	service, _, _, _ := seedService(t, time.Hour)
	ctx := context.Background()

	_, err := service.GetWinningBid(ctx, "auction1")
	require.ErrorIs(t, err, auctionerrors.ErrNoBids)

	_, err = service.PlaceBid(ctx, "auction1", "alice", 150)
	require.NoError(t, err)
	_, err = service.PlaceBid(ctx, "auction1", "bob", 300)
	require.NoError(t, err)

	winning, err := service.GetWinningBid(ctx, "auction1")
	require.NoError(t, err)
	require.Equal(t, "bob", winning.BidderID)
	require.Equal(t, int64(300), winning.Amount)
}

// Tests ListAuctions
func TestBiddingService_ListAuctions_FiltersByStatus(t *testing.T) {
	service, s, _, now := seedService(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.CreateAuction(ctx, model.Auction{
		AuctionID: "auction2", Title: "done", Status: model.StatusSold,
		CreatorID: "creator", EndsAt: now.Add(-time.Hour), CreatedAt: now.Add(-2 * time.Hour),
	}))

	active, err := service.ListAuctions(ctx, model.StatusActive, 10, 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "auction1", active[0].Auction.AuctionID)

	all, err := service.ListAuctions(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
