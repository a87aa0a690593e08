// Package scheduler runs the expiry scanner: a periodic sweep that feeds
// ended auctions to the settlement queue and schedules ending-soon
// reminders. The scanner only enqueues work; settlement itself happens on
// the job workers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-house/internal/jobs"
	"auction-house/internal/notifier"
	"auction-house/internal/store"
	"auction-house/utils"
)

// reminderMargin keeps the reminder ahead of the deadline even when the
// scanner wakes up late in the lead window.
const reminderMargin = time.Minute

// Scanner periodically sweeps active auctions for expired deadlines and
// upcoming endings.
type Scanner struct {
	store        store.Store
	queue        *jobs.Queue
	notifier     notifier.Notifier
	interval     time.Duration
	reminderLead time.Duration

	now func() time.Time

	// reminded tracks auctions whose ending-soon reminder was already
	// scheduled, so repeated sweeps inside the lead window stay quiet.
	mu       sync.Mutex
	reminded map[string]struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScanner creates a scanner that ticks every interval and schedules
// ending-soon reminders reminderLead before each deadline.
func NewScanner(st store.Store, q *jobs.Queue, n notifier.Notifier, interval, reminderLead time.Duration) *Scanner {
	return &Scanner{
		store:        st,
		queue:        q,
		notifier:     n,
		interval:     interval,
		reminderLead: reminderLead,
		now:          func() time.Time { return time.Now().UTC() },
		reminded:     make(map[string]struct{}),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (s *Scanner) Start(ctx context.Context) {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the current sweep to finish.
func (s *Scanner) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Tick runs one sweep. It is exported so tests and operators can drive the
// scanner without waiting on the ticker.
func (s *Scanner) Tick(ctx context.Context) {
	s.sweepExpired(ctx)
	s.sweepEndingSoon(ctx)
}

// sweepExpired enqueues a settlement job per ended auction. The queue
// deduplicates by auction, so an auction still settling from the previous
// sweep is not enqueued twice.
func (s *Scanner) sweepExpired(ctx context.Context) {
	expired, err := s.store.ExpiredAuctions(ctx, s.now())
	if err != nil {
		utils.Error("expiry sweep failed", map[string]any{"error": err.Error()})
		return
	}

	for _, a := range expired {
		// Past the deadline the reminder is moot; drop the dedup entry so
		// the map does not grow with every auction the scanner ever saw.
		s.mu.Lock()
		delete(s.reminded, a.AuctionID)
		s.mu.Unlock()

		enqueued := s.queue.Enqueue(jobs.QueueSettlement, "settle-"+a.AuctionID, jobs.SettlementPayload{
			AuctionID: a.AuctionID,
		}, jobs.Options{Attempts: 3, Backoff: 2 * time.Second})
		if enqueued {
			utils.Debug("settlement enqueued", map[string]any{"auction": a.AuctionID})
		}
	}
}

// sweepEndingSoon schedules a delayed reminder for each auction entering the
// lead window. The reminder fires shortly before the deadline as seen now;
// anti-sniping extensions after that point do not reschedule it.
func (s *Scanner) sweepEndingSoon(ctx context.Context) {
	now := s.now()
	ending, err := s.store.AuctionsEndingBefore(ctx, now.Add(s.reminderLead))
	if err != nil {
		utils.Error("ending-soon sweep failed", map[string]any{"error": err.Error()})
		return
	}

	for _, a := range ending {
		remaining := a.EndsAt.Sub(now)
		if remaining <= 0 {
			continue
		}
		s.mu.Lock()
		if _, seen := s.reminded[a.AuctionID]; seen {
			s.mu.Unlock()
			continue
		}
		s.reminded[a.AuctionID] = struct{}{}
		s.mu.Unlock()

		delay := remaining - reminderMargin
		if delay < 0 {
			delay = 0
		}
		s.queue.Enqueue(jobs.QueueReminder, "remind-"+a.AuctionID, jobs.ReminderPayload{
			AuctionID: a.AuctionID,
			EndsAt:    a.EndsAt,
		}, jobs.Options{Delay: delay})
	}
}

// ProcessReminder publishes the ending-soon event for a scheduled reminder.
// It rechecks the auction first: one that already settled, or whose deadline
// moved out of the lead window, stays silent.
func (s *Scanner) ProcessReminder(ctx context.Context, payload any) error {
	p, ok := payload.(jobs.ReminderPayload)
	if !ok {
		return fmt.Errorf("scheduler: unexpected reminder payload %T", payload)
	}

	auction, err := s.store.GetAuction(ctx, p.AuctionID)
	if err != nil {
		return fmt.Errorf("scheduler: failed to load auction %s for reminder: %w", p.AuctionID, err)
	}
	if auction.Status.Terminal() {
		s.mu.Lock()
		delete(s.reminded, p.AuctionID)
		s.mu.Unlock()
		return nil
	}
	remaining := auction.EndsAt.Sub(s.now())
	if remaining <= 0 || remaining > s.reminderLead {
		return nil
	}

	s.notifier.Publish(notifier.AuctionChannel(auction.AuctionID), notifier.EventAuctionEndingSoon, notifier.EndingSoonEvent{
		AuctionID:        auction.AuctionID,
		SecondsRemaining: int64(remaining / time.Second),
	})
	return nil
}
