package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const contextKey = "cipherbid-session"

var ErrSessionNotFound = errors.New("session not found")

type middlewareOptions struct {
	cookieName     string
	cookieMaxAge   time.Duration
	cookiePath     string
	cookieDomain   string
	cookieSecure   bool
	cookieSameSite http.SameSite
}

type MiddlewareOption func(*middlewareOptions)

// WithCookieName 設定 session id 在 cookie 中的名稱
func WithCookieName(name string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieName = name
	}
}

func WithCookieMaxAge(maxAge time.Duration) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieMaxAge = maxAge
	}
}

func WithCookiePath(path string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookiePath = path
	}
}

func WithCookieDomain(domain string) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieDomain = domain
	}
}

// WithCookieSecure 設定是否只在 HTTPS 連線中傳送 cookie
func WithCookieSecure(secure bool) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieSecure = secure
	}
}

func WithCookieSameSite(mode http.SameSite) MiddlewareOption {
	return func(o *middlewareOptions) {
		o.cookieSameSite = mode
	}
}

// GinMiddleware 為每個請求掛上 session，沒有 cookie 時產生新的 id
func GinMiddleware(store IStore, opts ...MiddlewareOption) gin.HandlerFunc {
	options := middlewareOptions{
		cookieName:     "session",
		cookieMaxAge:   time.Hour,
		cookiePath:     "/",
		cookieSecure:   true,
		cookieSameSite: http.SameSiteLaxMode,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return func(c *gin.Context) {
		id, err := c.Cookie(options.cookieName)
		if err != nil || uuid.Validate(id) != nil {
			id = uuid.NewString()
		}
		c.Set(contextKey, NewSession(c.Request.Context(), id, store))

		// handler 寫出 body 後就不能再改 header，cookie 要先設
		c.SetSameSite(options.cookieSameSite)
		c.SetCookie(
			options.cookieName,
			id,
			int(options.cookieMaxAge/time.Second),
			options.cookiePath,
			options.cookieDomain,
			options.cookieSecure,
			true,
		)
		c.Next()
	}
}

// FromContext 取得並載入目前請求的 session
func FromContext(c *gin.Context) (ISession, error) {
	const op = "session.FromContext"
	v, ok := c.Get(contextKey)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, ok := v.(ISession)
	if !ok {
		return nil, fmt.Errorf("[%s] invalid session type in context", op)
	}
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("[%s] %w", op, err)
	}
	return s, nil
}
