package api

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	s3Adapter "cipherbid/adapters/s3"
	"cipherbid/adapters/sse"
	"cipherbid/auction"
	"cipherbid/fhe"
)

type CreateAuctionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	MinimumBid  uint64 `json:"minimumBid"`
}

type PlaceBidRequest struct {
	Input   fhe.Handle `json:"input"`
	Proof   string     `json:"proof"`
	Payment uint64     `json:"payment"`
	Comment string     `json:"comment"`
}

type EncryptRequest struct {
	Amount uint64 `json:"amount"`
}

// limitBody 讀取整個 body 並限制大小，之後的驗證與 handler 讀的是緩衝後的內容
func (s *ServerImpl) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil || c.Request.Body == http.NoBody {
			c.Next()
			return
		}
		body, err := io.ReadAll(s3Adapter.NewMaxSizeReader(c.Request.Body, s.maxBodySize))
		var limitErr *s3Adapter.ReachLimitError
		if errors.As(err, &limitErr) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
				Kind:    auction.KindInvalidArgument.String(),
				Message: fmt.Sprintf("request body exceeds %s", s3Adapter.FormatBytes(limitErr.MaxBytes)),
			})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
				Kind:    auction.KindInvalidArgument.String(),
				Message: "fail to read request body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// rateLimit 限制每個身份的出價頻率，限流服務故障時放行
func (s *ServerImpl) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		identity := identityOf(c)
		decision, err := s.limiter.Allow(c.Request.Context(), string(identity), s.now())
		if err != nil {
			s.logger.Warn("Rate limiter unavailable", slog.Any("error", err))
			c.Next()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			seconds := int64(math.Ceil(decision.RetryAfter.Seconds()))
			c.Header("Retry-After", strconv.FormatInt(max(seconds, 1), 10))
			if s.metrics != nil {
				s.metrics.rateLimited.Inc()
			}
			s.abortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func (s *ServerImpl) auctionID(c *gin.Context) (auction.ID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Kind:    auction.KindInvalidArgument.String(),
			Message: fmt.Sprintf("invalid auction id %q", c.Param("id")),
		})
		return 0, false
	}
	return auction.ID(id), true
}

func (s *ServerImpl) bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Kind:    auction.KindInvalidArgument.String(),
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (s *ServerImpl) sanitize(text string) string {
	return strings.TrimSpace(s.strictPolicy.Sanitize(text))
}

// Create an auction
// (POST /auctions)
func (s *ServerImpl) createAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if !s.bindJSON(c, &req) {
		return
	}
	params := auction.CreateParams{
		Title:       s.sanitize(req.Title),
		Description: strings.TrimSpace(s.ugcPolicy.Sanitize(req.Description)),
		Category:    s.sanitize(req.Category),
		MinimumBid:  req.MinimumBid,
		Creator:     identityOf(c),
	}
	id, err := s.machine.Create(c.Request.Context(), params, s.now())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.observeCreated(s.machine.CountsSummary())
	}
	c.Header("Location", fmt.Sprintf("/auctions/%d", id))
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// List open auctions, or every auction id of a creator
// (GET /auctions)
func (s *ServerImpl) listAuctions(c *gin.Context) {
	if creator := c.Query("creator"); creator != "" {
		c.JSON(http.StatusOK, gin.H{"ids": s.machine.ListByCreator(auction.Identity(creator))})
		return
	}
	now := s.now()
	views := newAuctionViews(s.machine.ListOpenNonExpired(now), now)
	c.JSON(http.StatusOK, gin.H{"count": len(views), "auctions": views})
}

// (GET /auctions/summary)
func (s *ServerImpl) summary(c *gin.Context) {
	c.JSON(http.StatusOK, s.machine.CountsSummary())
}

// (GET /auctions/:id)
func (s *ServerImpl) getAuction(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	a, err := s.machine.Get(id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuctionView(a, s.now()))
}

// (GET /auctions/:id/bids)
func (s *ServerImpl) listBids(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	bids, err := s.machine.BidsOf(id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(bids), "bids": newBidViews(bids)})
}

// (GET /auctions/:id/bids/count)
func (s *ServerImpl) bidCount(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	count, err := s.machine.BidCountOf(id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

// (GET /auctions/:id/bidders/:bidder)
func (s *ServerImpl) hasBid(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	has, err := s.machine.HasBid(auction.Identity(c.Param("bidder")), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hasBid": has})
}

// Place an encrypted bid
// (POST /auctions/:id/bids)
func (s *ServerImpl) placeBid(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	var req PlaceBidRequest
	if !s.bindJSON(c, &req) {
		return
	}
	proof, err := hex.DecodeString(strings.TrimPrefix(req.Proof, "0x"))
	if err != nil || len(proof) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Kind:    auction.KindInvalidArgument.String(),
			Message: "proof must be a hex string",
		})
		return
	}
	bidder := identityOf(c)
	err = s.machine.PlaceBid(c.Request.Context(), auction.PlaceBidParams{
		AuctionID: id,
		Bidder:    bidder,
		Payment:   req.Payment,
		Input:     req.Input,
		Proof:     proof,
		Comment:   s.sanitize(req.Comment),
	}, s.now())
	if s.metrics != nil {
		s.metrics.observeBid(err)
	}
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"auctionId": id, "bidder": bidder})
}

// Close an auction and transfer the minimum bid to the seller
// (POST /auctions/:id/close)
func (s *ServerImpl) closeAuction(c *gin.Context) {
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	settlement, err := s.machine.Close(c.Request.Context(), id, identityOf(c), s.now())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.observeSettlement(settlement, s.machine.CountsSummary())
	}
	c.JSON(http.StatusOK, newSettlementView(settlement))
}

// Track auction events
// (GET /auctions/:id/events)
func (s *ServerImpl) events(c *gin.Context) {
	const op = "events"
	id, ok := s.auctionID(c)
	if !ok {
		return
	}
	a, err := s.machine.Get(id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	// 已結束的拍賣不會再有事件
	if !a.IsOpen {
		c.AbortWithStatusJSON(http.StatusGone, ErrorResponse{
			Kind:    auction.KindAuctionClosed.String(),
			Message: "auction has ended",
		})
		return
	}
	channel := ChannelOf(id)
	ch, err := s.hub.Subscribe(channel)
	if err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] Fail to subscribe to auction events, err=%w", op, err))
		return
	}
	defer s.hub.Unsubscribe(channel, ch)
	sse.Stream(c, "auction", ch, s.keepAlive)
}

// ChannelOf 是拍賣在 SSE hub 中的頻道名稱
func ChannelOf(id auction.ID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// Encrypt a plaintext amount for the caller
// (POST /inputs)
func (s *ServerImpl) encryptInput(c *gin.Context) {
	var req EncryptRequest
	if !s.bindJSON(c, &req) {
		return
	}
	in, err := s.encryptor.Encrypt(c.Request.Context(), req.Amount, string(identityOf(c)))
	if err != nil {
		s.abortWithError(c, &auction.Error{Kind: auction.KindPrimitiveUnavailable, Identity: identityOf(c), Reason: "encryption failed", Err: err})
		return
	}
	c.JSON(http.StatusOK, newInputView(in))
}

// (GET /accounts/me/balance)
func (s *ServerImpl) balance(c *gin.Context) {
	identity := identityOf(c)
	c.JSON(http.StatusOK, gin.H{"identity": identity, "balance": s.machine.BalanceOf(identity)})
}
