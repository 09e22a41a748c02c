package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cipherbid/adapters/oidc"
	"cipherbid/adapters/session"
	"cipherbid/auction"
)

const (
	identityKey      = "cipherbid-identity"
	accessTokenName  = "access_token"
	ssoSessionPrefix = "sso:"
)

// bearerToken 優先使用 Authorization header，其次是登入時設定的 cookie
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if token, err := c.Cookie(accessTokenName); err == nil {
		return token
	}
	return ""
}

// requireAuth 驗證 access token，並把 subject 作為拍賣中的身份
func (s *ServerImpl) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			s.abortWithError(c, ErrUnauthorized)
			return
		}
		claims, err := s.tokens.Parse(token, s.now())
		if err != nil {
			s.logger.Debug("Reject access token", slog.Any("error", err))
			s.abortWithError(c, ErrUnauthorized)
			return
		}
		c.Set(identityKey, auction.Identity(claims.Subject))
		c.Next()
	}
}

func identityOf(c *gin.Context) auction.Identity {
	return c.MustGet(identityKey).(auction.Identity)
}

func (s *ServerImpl) provider(c *gin.Context) (*oidc.Provider, bool) {
	p, ok := s.providers[c.Param("provider")]
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{
			Kind:    auction.KindNotFound.String(),
			Message: fmt.Sprintf("unknown sso provider %q", c.Param("provider")),
		})
	}
	return p, ok
}

// ssoLogin 產生 state/nonce/PKCE verifier 存進 session 後導向登入頁面
// (GET /auth/sso/:provider/login)
func (s *ServerImpl) ssoLogin(c *gin.Context) {
	const op = "ssoLogin"
	p, ok := s.provider(c)
	if !ok {
		return
	}
	sess, err := session.FromContext(c)
	if err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] %w", op, err))
		return
	}
	req := p.Begin()
	prefix := ssoSessionPrefix + p.Name() + ":"
	sess.Set(prefix+"state", req.State)
	sess.Set(prefix+"nonce", req.Nonce)
	sess.Set(prefix+"verifier", req.CodeVerifier)
	if err := sess.Save(); err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] Fail to save session, err=%w", op, err))
		return
	}
	c.Redirect(http.StatusFound, req.URL)
}

// TokenResponse 是登入成功後的回應
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"`
	Subject     string `json:"subject"`
	Username    string `json:"username"`
}

// ssoCallback 驗證 state 後交換授權碼，並簽發服務自己的 access token
// (GET /auth/sso/:provider/callback)
func (s *ServerImpl) ssoCallback(c *gin.Context) {
	const op = "ssoCallback"
	p, ok := s.provider(c)
	if !ok {
		return
	}
	sess, err := session.FromContext(c)
	if err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] %w", op, err))
		return
	}
	// state 等資料只能使用一次
	prefix := ssoSessionPrefix + p.Name() + ":"
	req := oidc.AuthRequest{
		State:        sess.Pop(prefix + "state"),
		Nonce:        sess.Pop(prefix + "nonce"),
		CodeVerifier: sess.Pop(prefix + "verifier"),
	}
	if err := sess.Save(); err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] Fail to save session, err=%w", op, err))
		return
	}

	claims, err := p.Complete(c.Request.Context(), req, c.Query("code"), c.Query("state"))
	if errors.Is(err, oidc.ErrStateMismatch) || errors.Is(err, oidc.ErrNonceMismatch) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
			Kind:    auction.KindInvalidArgument.String(),
			Message: err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Warn("Fail to complete sso login", slog.String("provider", p.Name()), slog.Any("error", err))
		s.abortWithError(c, ErrUnauthorized)
		return
	}

	user, err := s.users.ResolveUser(c.Request.Context(), p.Name(), claims.Subject, claims.DisplayName())
	if err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] Fail to resolve user, err=%w", op, err))
		return
	}
	token, err := s.tokens.Issue(user.ID.String(), user.Username, s.now())
	if err != nil {
		s.abortWithError(c, fmt.Errorf("[%s] %w", op, err))
		return
	}
	ttl := s.tokens.TTL()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessTokenName, token, int(ttl.Seconds()), "/", "", true, true)
	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Subject:     user.ID.String(),
		Username:    user.Username,
	})
}
