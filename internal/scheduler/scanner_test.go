package scheduler

import (
	"context"
	"testing"
	"time"

	"auction-house/internal/jobs"
	model "auction-house/internal/models"
	"auction-house/internal/notifier"
	settlement "auction-house/internal/settlementService"
	"auction-house/internal/store"

	"github.com/stretchr/testify/require"
)

func seedScanner(t *testing.T) (*Scanner, *jobs.Queue, *store.MemoryStore, *notifier.Recorder, time.Time) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	rec := notifier.NewRecorder()
	q := jobs.NewQueue(64)
	q.Start(ctx, 2)
	t.Cleanup(q.Stop)

	scanner := NewScanner(s, q, rec, time.Hour, 5*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	scanner.now = func() time.Time { return now }

	require.NoError(t, s.CreateAccount(ctx, model.Account{AccountID: "creator", DisplayName: "Carol", CreatedAt: now}))
	return scanner, q, s, rec, now
}

func addAuction(t *testing.T, s *store.MemoryStore, id string, status model.AuctionStatus, endsAt time.Time) {
	t.Helper()
	require.NoError(t, s.CreateAuction(context.Background(), model.Auction{
		AuctionID: id, Title: id, Status: status, CreatorID: "creator",
		StartingPrice: 100, CurrentPrice: 100, EndsAt: endsAt, CreatedAt: endsAt.Add(-time.Hour),
	}))
}

func TestScanner_Tick_SettlesExpiredAuctions(t *testing.T) {
	scanner, q, s, _, now := seedScanner(t)
	ctx := context.Background()

	addAuction(t, s, "expired1", model.StatusActive, now.Add(-time.Minute))
	addAuction(t, s, "expired2", model.StatusActive, now.Add(-time.Hour))
	addAuction(t, s, "running", model.StatusActive, now.Add(time.Hour))
	addAuction(t, s, "settled", model.StatusSold, now.Add(-time.Hour))

	svc := settlement.NewSettlementService(s, notifier.NewRecorder())
	q.Register(jobs.QueueSettlement, svc.ProcessJob)

	scanner.Tick(ctx)

	require.Eventually(t, func() bool {
		a1, err1 := s.GetAuction(ctx, "expired1")
		a2, err2 := s.GetAuction(ctx, "expired2")
		return err1 == nil && err2 == nil && a1.Status.Terminal() && a2.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	running, err := s.GetAuction(ctx, "running")
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, running.Status)
}

func TestScanner_Tick_DoesNotDoubleEnqueue(t *testing.T) {
	scanner, q, s, _, now := seedScanner(t)
	ctx := context.Background()

	addAuction(t, s, "expired1", model.StatusActive, now.Add(-time.Minute))

	runs := make(chan string, 8)
	block := make(chan struct{})
	q.Register(jobs.QueueSettlement, func(_ context.Context, payload any) error {
		p := payload.(jobs.SettlementPayload)
		runs <- p.AuctionID
		<-block
		return nil
	})

	// Repeated sweeps while the job is still in flight enqueue nothing new.
	scanner.Tick(ctx)
	scanner.Tick(ctx)
	scanner.Tick(ctx)
	close(block)

	select {
	case id := <-runs:
		require.Equal(t, "expired1", id)
	case <-time.After(time.Second):
		t.Fatal("settlement job never ran")
	}
	select {
	case <-runs:
		t.Fatal("settlement enqueued more than once")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScanner_Tick_SchedulesEndingSoonReminder(t *testing.T) {
	scanner, q, s, rec, now := seedScanner(t)
	ctx := context.Background()

	// Inside the five minute lead window; reminder fires a minute early,
	// which the test shrinks by ticking with a deadline under the margin.
	addAuction(t, s, "closing", model.StatusActive, now.Add(30*time.Second))
	addAuction(t, s, "faraway", model.StatusActive, now.Add(time.Hour))

	q.Register(jobs.QueueReminder, scanner.ProcessReminder)

	scanner.Tick(ctx)

	require.Eventually(t, func() bool {
		return len(rec.ByEvent(notifier.EventAuctionEndingSoon)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	events := rec.ByEvent(notifier.EventAuctionEndingSoon)
	require.Equal(t, notifier.AuctionChannel("closing"), events[0].Channel)
	payload := events[0].Payload.(notifier.EndingSoonEvent)
	require.Equal(t, "closing", payload.AuctionID)
	require.Equal(t, int64(30), payload.SecondsRemaining)

	// A second sweep does not schedule another reminder.
	scanner.Tick(ctx)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, rec.ByEvent(notifier.EventAuctionEndingSoon), 1)
}

func TestScanner_ProcessReminder_SkipsSettledAndRescheduled(t *testing.T) {
	scanner, _, s, rec, now := seedScanner(t)
	ctx := context.Background()

	addAuction(t, s, "done", model.StatusSold, now.Add(-time.Minute))
	addAuction(t, s, "extended", model.StatusActive, now.Add(time.Hour))

	scanner.mu.Lock()
	scanner.reminded["done"] = struct{}{}
	scanner.mu.Unlock()

	require.NoError(t, scanner.ProcessReminder(ctx, jobs.ReminderPayload{AuctionID: "done", EndsAt: now}))
	require.NoError(t, scanner.ProcessReminder(ctx, jobs.ReminderPayload{AuctionID: "extended", EndsAt: now.Add(time.Minute)}))
	require.Empty(t, rec.ByEvent(notifier.EventAuctionEndingSoon))

	// A settled auction's dedup entry is dropped on the way out.
	scanner.mu.Lock()
	_, tracked := scanner.reminded["done"]
	scanner.mu.Unlock()
	require.False(t, tracked)

	require.Error(t, scanner.ProcessReminder(ctx, jobs.ReminderPayload{AuctionID: "ghost"}))
}

func TestScanner_RemindedEntriesPrunedAfterDeadline(t *testing.T) {
	scanner, q, s, _, now := seedScanner(t)
	ctx := context.Background()

	addAuction(t, s, "closing", model.StatusActive, now.Add(30*time.Second))

	q.Register(jobs.QueueReminder, scanner.ProcessReminder)
	q.Register(jobs.QueueSettlement, func(context.Context, any) error { return nil })

	scanner.Tick(ctx)
	scanner.mu.Lock()
	_, tracked := scanner.reminded["closing"]
	scanner.mu.Unlock()
	require.True(t, tracked)

	// Once the deadline passes, the expiry sweep drops the entry so the map
	// does not accumulate one key per auction forever.
	clock := now.Add(time.Minute)
	scanner.now = func() time.Time { return clock }
	scanner.Tick(ctx)

	scanner.mu.Lock()
	_, tracked = scanner.reminded["closing"]
	scanner.mu.Unlock()
	require.False(t, tracked)
}

func TestScanner_StartStop(t *testing.T) {
	s := store.NewMemoryStore()
	q := jobs.NewQueue(8)
	q.Start(context.Background(), 1)
	defer q.Stop()

	scanner := NewScanner(s, q, notifier.NewRecorder(), 10*time.Millisecond, time.Minute)
	scanner.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	scanner.Stop()
}
