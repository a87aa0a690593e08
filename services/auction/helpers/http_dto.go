package helpers

// Request/Response DTOs. Monetary amounts travel as integer minor units.

type CreateAccountRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	Balance     int64  `json:"balance" binding:"gte=0"`
}

type AccountResponse struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
	TotalWins   int    `json:"total_wins"`
	CreatedAt   string `json:"created_at"`
}

type CreateAuctionRequest struct {
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	StartingPrice int64  `json:"starting_price" binding:"required,gt=0"`
	CreatorID     string `json:"creator_id" binding:"required"`
	EndsAt        string `json:"ends_at" binding:"required"` // RFC3339
}

type AuctionResponse struct {
	AuctionID     string  `json:"auction_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	StartingPrice int64   `json:"starting_price"`
	CurrentPrice  int64   `json:"current_price"`
	Status        string  `json:"status"`
	CreatorID     string  `json:"creator_id"`
	WinnerID      *string `json:"winner_id,omitempty"`
	EndsAt        string  `json:"ends_at"`
	CreatedAt     string  `json:"created_at"`
	BidCount      int     `json:"bid_count"`
}

type AuctionDetailResponse struct {
	AuctionResponse
	Bids []BidResponse `json:"bids"`
}

type PlaceBidRequest struct {
	AuctionID string `json:"auction_id" binding:"required"`
	BidderID  string `json:"bidder_id" binding:"required"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
}

type BidResponse struct {
	BidID     string `json:"bid_id"`
	AuctionID string `json:"auction_id"`
	BidderID  string `json:"bidder_id"`
	Amount    int64  `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type SettlementResponse struct {
	RecordID   string `json:"record_id"`
	AuctionID  string `json:"auction_id"`
	WinnerID   string `json:"winner_id"`
	FinalPrice int64  `json:"final_price"`
	EndedAt    string `json:"ended_at"`
	CreatedAt  string `json:"created_at"`
}

type PlaceBidResponse struct {
	Bid           BidResponse `json:"bid"`
	CurrentPrice  int64       `json:"current_price"`
	BidderBalance int64       `json:"bidder_balance"`
	EndsAt        string      `json:"ends_at"`
	Extended      bool        `json:"extended"`
}
