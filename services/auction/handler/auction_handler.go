package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"auction-house/internal/auctionerrors"
	bidding "auction-house/internal/biddingService"
	model "auction-house/internal/models"
	"auction-house/services/auction/helpers"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

type AuctionServiceInterface interface {
	CreateAccount(ctx context.Context, displayName string, openingBalance int64) (model.Account, error)
	GetAccount(ctx context.Context, accountID string) (model.Account, error)
	CreateAuction(ctx context.Context, in bidding.CreateAuctionInput) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (bidding.AuctionDetail, error)
	ListAuctions(ctx context.Context, status model.AuctionStatus, limit, offset int) ([]bidding.AuctionSummary, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount int64) (bidding.BidResult, error)
	GetBidsForAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
}

// SettlementServiceInterface exposes the settlement lookups the HTTP layer
// needs. Settlement itself runs on the job workers, never over HTTP.
type SettlementServiceInterface interface {
	GetSettlement(ctx context.Context, auctionID string) (model.SettlementRecord, error)
}

type AuctionHandler struct {
	service     AuctionServiceInterface
	settlements SettlementServiceInterface
}

func NewAuctionHandler(service AuctionServiceInterface, settlements SettlementServiceInterface) *AuctionHandler {
	return &AuctionHandler{service: service, settlements: settlements}
}

// CreateAccountHandler handles POST /accounts
func (h *AuctionHandler) CreateAccountHandler(c *gin.Context) {
	var req helpers.CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAccountHandler", err)
		return
	}

	account, err := h.service.CreateAccount(c.Request.Context(), req.DisplayName, req.Balance)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("CreateAccountHandler: failed to create account", map[string]any{
			"display_name": req.DisplayName,
			"error":        err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAccountResponse(account), "account created successfully")
	helpers.LogSuccess("CreateAccountHandler", "account created successfully", map[string]any{
		"account_id": account.AccountID,
		"balance":    account.Balance,
	})
}

// GetAccountHandler handles GET /accounts/:account_id
func (h *AuctionHandler) GetAccountHandler(c *gin.Context) {
	accountID := c.Param("account_id")
	account, err := h.service.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAccountHandler: error retrieving account", map[string]any{"account_id": accountID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToAccountResponse(account), "account retrieved successfully")
}

// CreateAuctionHandler handles POST /auctions
func (h *AuctionHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	endsAt, err := time.Parse(time.RFC3339, req.EndsAt)
	if err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", fmt.Errorf("ends_at must be RFC3339: %w", err))
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), bidding.CreateAuctionInput{
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		CreatorID:     req.CreatorID,
		EndsAt:        endsAt,
	})
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("CreateAuctionHandler: failed to create auction", map[string]any{
			"creator_id": req.CreatorID,
			"error":      err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.ToAuctionResponse(auction, 0), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"creator_id": auction.CreatorID,
		"ends_at":    auction.EndsAt.Format(time.RFC3339),
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *AuctionHandler) ListAuctionsHandler(c *gin.Context) {
	status := model.AuctionStatus(c.Query("status"))
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)

	summaries, err := h.service.ListAuctions(c.Request.Context(), status, limit, offset)
	if err != nil {
		httpStatus, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, httpStatus, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ListAuctionsHandler: error listing auctions", map[string]any{"error": err.Error()})
		return
	}

	resp := make([]helpers.AuctionResponse, 0, len(summaries))
	for _, s := range summaries {
		resp = append(resp, helpers.ToAuctionResponse(s.Auction, s.BidCount))
	}
	utils.JSONResponse(c, http.StatusOK, resp, "auctions retrieved successfully")
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *AuctionHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	detail, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := helpers.AuctionDetailResponse{
		AuctionResponse: helpers.ToAuctionResponse(detail.Auction, detail.BidCount),
		Bids:            make([]helpers.BidResponse, 0, len(detail.Bids)),
	}
	for _, b := range detail.Bids {
		resp.Bids = append(resp.Bids, helpers.ToBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "auction retrieved successfully")
}

// PlaceBidHandler handles POST /bids
func (h *AuctionHandler) PlaceBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	res, err := h.service.PlaceBid(c.Request.Context(), req.AuctionID, req.BidderID, req.Amount)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("PlaceBidHandler: failed to place bid", map[string]any{
			"auction_id": req.AuctionID,
			"bidder_id":  req.BidderID,
			"amount":     req.Amount,
			"error":      err.Error(),
		})
		return
	}

	resp := helpers.PlaceBidResponse{
		Bid:           helpers.ToBidResponse(res.Bid),
		CurrentPrice:  res.CurrentPrice,
		BidderBalance: res.BidderBalance,
		EndsAt:        res.EndsAt.UTC().Format(time.RFC3339),
		Extended:      res.Extended,
	}

	utils.JSONResponse(c, http.StatusCreated, resp, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":     res.Bid.BidID,
		"auction_id": req.AuctionID,
		"bidder_id":  req.BidderID,
		"amount":     req.Amount,
		"extended":   res.Extended,
	})
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *AuctionHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidsForAuction(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, auctionerrors.ErrNoBids) {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidsByAuctionHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.ToBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *AuctionHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, auctionerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetWinningBidHandler: winning bid error", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToBidResponse(bid), "winning bid retrieved successfully")
}

// GetSettlementHandler handles GET /auctions/:auction_id/settlement
func (h *AuctionHandler) GetSettlementHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	rec, err := h.settlements.GetSettlement(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetSettlementHandler: error retrieving settlement", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.ToSettlementResponse(rec), "settlement retrieved successfully")
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}
