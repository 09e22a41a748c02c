package openapi

import (
	"crypto"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("token is invalid")

// JWT 是服務簽發的 access token，Subject 即拍賣中的身份
type JWT struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer 以 Ed25519 簽發與驗證 access token
type TokenIssuer struct {
	key      ed25519.PrivateKey
	issuer   string
	audience string
	ttl      time.Duration
}

func NewTokenIssuer(key ed25519.PrivateKey, issuer, audience string, ttl time.Duration) (*TokenIssuer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("invalid ed25519 private key")
	}
	if ttl <= 0 {
		ttl = 3 * time.Hour
	}
	return &TokenIssuer{key: key, issuer: issuer, audience: audience, ttl: ttl}, nil
}

func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue 簽發 subject 的 token
func (i *TokenIssuer) Issue(subject, username string, now time.Time) (string, error) {
	const op = "TokenIssuer.Issue"
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, JWT{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    i.issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
			Audience:  []string{i.audience},
		},
	})
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("[%s] Fail to sign token, err=%w", op, err)
	}
	return signed, nil
}

// Parse 驗證簽章、簽發者、受眾與有效期間
func (i *TokenIssuer) Parse(tokenString string, now time.Time) (*JWT, error) {
	return ParseAndValidateJWT(tokenString, i.key, i.issuer, i.audience, now)
}

func ParseAndValidateJWT(tokenString string, signer crypto.Signer, issuer, audience string, now time.Time) (*JWT, error) {
	const op = "ParseAndValidateJWT"
	claims := &JWT{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) {
			return signer.Public(), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] %w: %w", op, ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("[%s] %w", op, ErrInvalidToken)
	}
	return claims, nil
}
