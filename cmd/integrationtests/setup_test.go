package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	bidding "auction-house/internal/biddingService"
	model "auction-house/internal/models"
	"auction-house/internal/notifier"
	"auction-house/internal/server"
	settlement "auction-house/internal/settlementService"
	"auction-house/internal/store"

	"github.com/gin-gonic/gin"
)

// TestEnv bundles the router with the seeded store so tests can assert on
// committed state directly.
type TestEnv struct {
	Router *gin.Engine
	Store  *store.MemoryStore
}

// SetupTestRouter initializes the router with an in-memory store for
// integration testing, optionally seeded with accounts and auctions.
func SetupTestRouter(t *testing.T, accounts []model.Account, auctions []model.Auction) TestEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, a := range accounts {
		if err := st.CreateAccount(ctx, a); err != nil {
			t.Fatalf("failed to seed account: %v", err)
		}
	}
	for _, a := range auctions {
		if err := st.CreateAuction(ctx, a); err != nil {
			t.Fatalf("failed to seed auction: %v", err)
		}
	}

	service := bidding.NewBiddingService(st, notifier.NewRecorder(), nil)
	settlements := settlement.NewSettlementService(st, notifier.NewRecorder())
	router := server.SetupRouter(service, settlements)
	return TestEnv{Router: router, Store: st}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error
	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if data, ok := resp["data"].(map[string]any); ok && w.Code < 300 {
			resp = data
		}
	}
	return resp, w
}

// seedFixtures returns one funded creator, two funded bidders and an active
// auction ending an hour out.
func seedFixtures() ([]model.Account, []model.Auction) {
	now := time.Now().UTC()
	accounts := []model.Account{
		{AccountID: "creator", DisplayName: "Carol", Balance: 0, CreatedAt: now},
		{AccountID: "alice", DisplayName: "Alice", Balance: 1000, CreatedAt: now},
		{AccountID: "bob", DisplayName: "Bob", Balance: 1000, CreatedAt: now},
	}
	auctions := []model.Auction{
		{
			AuctionID:     "auction1",
			Title:         "title1",
			Description:   "description1",
			StartingPrice: 100,
			CurrentPrice:  100,
			Status:        model.StatusActive,
			CreatorID:     "creator",
			EndsAt:        now.Add(time.Hour),
			CreatedAt:     now,
		},
	}
	return accounts, auctions
}
