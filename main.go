package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "auction-house/internal/biddingService"
	"auction-house/internal/config"
	"auction-house/internal/jobs"
	"auction-house/internal/metrics"
	model "auction-house/internal/models"
	"auction-house/internal/notifier"
	"auction-house/internal/scheduler"
	"auction-house/internal/server"
	settlement "auction-house/internal/settlementService"
	"auction-house/internal/store"
	"auction-house/internal/store/postgres"
	"auction-house/utils"
)

func main() {
	cfg := config.Load()
	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		utils.Error("failed to open store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer cleanup()

	events := notifier.NewLogNotifier()
	queue := jobs.NewQueue(256)

	biddingSvc := bidding.NewBiddingService(st, events, queue)
	settlementSvc := settlement.NewSettlementService(st, events)
	scanner := scheduler.NewScanner(st, queue, events, cfg.ScanInterval, cfg.ReminderLead)

	queue.Register(jobs.QueueSettlement, settlementSvc.ProcessJob)
	queue.Register(jobs.QueueReminder, scanner.ProcessReminder)
	queue.Register(jobs.QueueOutbid, notifyOutbid)

	queue.Start(ctx, cfg.Workers)
	scanner.Start(ctx)

	router := server.SetupRouter(biddingSvc, settlementSvc)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		utils.Info("starting auction server", map[string]any{"port": cfg.Port, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Error("server failed", map[string]any{"error": err.Error()})
			cancel()
		}
	}()

	<-ctx.Done()
	utils.Info("shutting down", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Warn("server shutdown error", map[string]any{"error": err.Error()})
	}
	scanner.Stop()
	queue.Stop()
}

// openStore selects Postgres when DATABASE_URL is set, otherwise the
// in-memory store seeded with demo data.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		utils.Info("connected to postgres", nil)
		return pg, pg.Close, nil
	}

	mem := store.NewMemoryStore()
	prepopulate(ctx, mem)
	utils.Info("using in-memory store", nil)
	return mem, func() {}, nil
}

// notifyOutbid handles outbid notification jobs. With no external delivery
// channel configured, the notification lands in the structured log.
func notifyOutbid(ctx context.Context, payload any) error {
	p, ok := payload.(jobs.OutbidPayload)
	if !ok {
		return nil
	}
	utils.Info("outbid notification", map[string]any{
		"account_id": p.AccountID,
		"auction_id": p.AuctionID,
		"title":      p.Title,
		"amount":     utils.FormatAmount(p.Amount),
	})
	return nil
}

// prepopulate adds sample accounts and auctions to the in-memory store
func prepopulate(ctx context.Context, st store.Store) {
	now := time.Now().UTC()

	accounts := []model.Account{
		{AccountID: "acct1", DisplayName: "Alice", Balance: 100_000, CreatedAt: now},
		{AccountID: "acct2", DisplayName: "Bob", Balance: 100_000, CreatedAt: now},
		{AccountID: "acct3", DisplayName: "Carol", Balance: 100_000, CreatedAt: now},
	}
	for _, a := range accounts {
		if err := st.CreateAccount(ctx, a); err != nil {
			utils.Warn("failed to seed account", map[string]any{"account_id": a.AccountID, "error": err.Error()})
		}
	}

	auctions := []model.Auction{
		{AuctionID: "auction1", Title: "Vintage camera", Description: "Working 1960s rangefinder", StartingPrice: 10_000, CurrentPrice: 10_000, Status: model.StatusActive, CreatorID: "acct1", EndsAt: now.Add(10 * time.Minute), CreatedAt: now},
		{AuctionID: "auction2", Title: "Mechanical keyboard", Description: "Custom build, lubed switches", StartingPrice: 5_000, CurrentPrice: 5_000, Status: model.StatusActive, CreatorID: "acct2", EndsAt: now.Add(30 * time.Minute), CreatedAt: now},
		{AuctionID: "auction3", Title: "Fountain pen", Description: "Fine nib, boxed", StartingPrice: 2_500, CurrentPrice: 2_500, Status: model.StatusActive, CreatorID: "acct3", EndsAt: now.Add(time.Hour), CreatedAt: now},
	}
	for _, a := range auctions {
		if err := st.CreateAuction(ctx, a); err != nil {
			utils.Warn("failed to seed auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
		}
	}
}
