package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"auction-house/internal/auctionerrors"
	model "auction-house/internal/models"
	"auction-house/utils"

	"github.com/gin-gonic/gin"
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, auctionerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, auctionerrors.ErrAccountNotFound):
		return http.StatusNotFound, "account not found"
	case errors.Is(err, auctionerrors.ErrNoSettlement):
		return http.StatusNotFound, "auction not settled"
	case errors.Is(err, auctionerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, auctionerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, auctionerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, auctionerrors.ErrAuctionEnded):
		return http.StatusConflict, "auction has ended"
	case errors.Is(err, auctionerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction is not active"
	case errors.Is(err, auctionerrors.ErrSelfBid):
		return http.StatusForbidden, "creator cannot bid on own auction"
	case errors.Is(err, auctionerrors.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient balance"
	case errors.Is(err, auctionerrors.ErrNoBids):
		return http.StatusOK, "no bids found for auction"
	case auctionerrors.IsTransient(err):
		return http.StatusServiceUnavailable, "temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}

// ToAccountResponse converts an account model to its API shape.
func ToAccountResponse(a model.Account) AccountResponse {
	return AccountResponse{
		AccountID:   a.AccountID,
		DisplayName: a.DisplayName,
		Balance:     a.Balance,
		TotalWins:   a.TotalWins,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToAuctionResponse converts an auction model to its API shape.
func ToAuctionResponse(a model.Auction, bidCount int) AuctionResponse {
	return AuctionResponse{
		AuctionID:     a.AuctionID,
		Title:         a.Title,
		Description:   a.Description,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		Status:        string(a.Status),
		CreatorID:     a.CreatorID,
		WinnerID:      a.WinnerID,
		EndsAt:        a.EndsAt.UTC().Format(time.RFC3339),
		CreatedAt:     a.CreatedAt.UTC().Format(time.RFC3339),
		BidCount:      bidCount,
	}
}

// ToSettlementResponse converts a settlement record to its API shape.
func ToSettlementResponse(rec model.SettlementRecord) SettlementResponse {
	return SettlementResponse{
		RecordID:   rec.RecordID,
		AuctionID:  rec.AuctionID,
		WinnerID:   rec.WinnerID,
		FinalPrice: rec.FinalPrice,
		EndedAt:    rec.EndedAt.UTC().Format(time.RFC3339),
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ToBidResponse converts a bid model to its API shape.
func ToBidResponse(b model.Bid) BidResponse {
	return BidResponse{
		BidID:     b.BidID,
		AuctionID: b.AuctionID,
		BidderID:  b.BidderID,
		Amount:    b.Amount,
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}
