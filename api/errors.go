package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cipherbid/auction"
)

var (
	ErrUnauthorized = errors.New("missing or invalid access token")
	ErrNotWriter    = errors.New("this instance does not hold the writer lease")
	ErrRateLimited  = errors.New("too many bids, slow down")
)

// ErrorResponse 是所有錯誤回應的格式
type ErrorResponse struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

var kindStatus = map[auction.Kind]int{
	auction.KindInvalidArgument:      http.StatusBadRequest,
	auction.KindBidTooLow:            http.StatusBadRequest,
	auction.KindInvalidProof:         http.StatusBadRequest,
	auction.KindSelfBidForbidden:     http.StatusForbidden,
	auction.KindNotAuthorizedToClose: http.StatusForbidden,
	auction.KindNotFound:             http.StatusNotFound,
	auction.KindDuplicateBid:         http.StatusConflict,
	auction.KindAuctionClosed:        http.StatusConflict,
	auction.KindAlreadyClosed:        http.StatusConflict,
	auction.KindAuctionExpired:       http.StatusGone,
	auction.KindPrimitiveUnavailable: http.StatusServiceUnavailable,
	auction.KindStorage:              http.StatusInternalServerError,
}

// StatusOf 回傳錯誤對應的 HTTP 狀態碼
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotWriter):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	}
	if status, ok := kindStatus[auction.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// abortWithError 依錯誤種類回應，5xx 會記錄錯誤內容且不回傳細節
func (s *ServerImpl) abortWithError(c *gin.Context, err error) {
	status := StatusOf(err)
	resp := ErrorResponse{Message: err.Error()}
	if kind := auction.KindOf(err); kind != auction.KindUnknown {
		resp.Kind = kind.String()
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		resp.Message = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, resp)
}
