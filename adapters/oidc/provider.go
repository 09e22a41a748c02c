package oidc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrStateMismatch = errors.New("state mismatch")
	ErrNonceMismatch = errors.New("nonce mismatch")
	ErrMissingToken  = errors.New("no id_token in token response")
)

// Config 是單一 SSO 提供者的設定
type Config struct {
	Name         string
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Endpoints 用於不支援 discovery 的提供者
type Endpoints struct {
	AuthURL  string
	TokenURL string
	JWKSURL  string
}

type providerOptions struct {
	endpoints *Endpoints
	keySet    oidc.KeySet
}

type ProviderOption func(*providerOptions)

// WithEndpoints 直接指定端點，不做 discovery
func WithEndpoints(e Endpoints) ProviderOption {
	return func(o *providerOptions) {
		o.endpoints = &e
	}
}

// WithKeySet 指定驗證 ID token 的金鑰，不從 JWKS 端點取得
func WithKeySet(keySet oidc.KeySet) ProviderOption {
	return func(o *providerOptions) {
		o.keySet = keySet
	}
}

type Provider struct {
	name     string
	verifier *oidc.IDTokenVerifier
	oauth2   oauth2.Config
}

// AuthRequest 是一次登入流程需要保存到 session 的資料
type AuthRequest struct {
	URL          string
	State        string
	Nonce        string
	CodeVerifier string
}

func NewProvider(ctx context.Context, cfg Config, opts ...ProviderOption) (*Provider, error) {
	const op = "oidc.NewProvider"
	var options providerOptions
	for _, opt := range opts {
		opt(&options)
	}

	var (
		provider *oidc.Provider
		err      error
	)
	if options.endpoints != nil {
		provider = (&oidc.ProviderConfig{
			IssuerURL: cfg.IssuerURL,
			AuthURL:   options.endpoints.AuthURL,
			TokenURL:  options.endpoints.TokenURL,
			JWKSURL:   options.endpoints.JWKSURL,
		}).NewProvider(ctx)
	} else {
		provider, err = oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to discover provider %s, err=%w", op, cfg.Name, err)
		}
	}

	verifierConfig := &oidc.Config{ClientID: cfg.ClientID}
	verifier := provider.Verifier(verifierConfig)
	if options.keySet != nil {
		verifier = oidc.NewVerifier(cfg.IssuerURL, options.keySet, verifierConfig)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &Provider{
		name:     cfg.Name,
		verifier: verifier,
		oauth2: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
	}, nil
}

func (p *Provider) Name() string {
	return p.name
}

// Begin 產生 state、nonce 與 PKCE verifier，並組出授權網址
func (p *Provider) Begin() AuthRequest {
	req := AuthRequest{
		State:        oauth2.GenerateVerifier(),
		Nonce:        oauth2.GenerateVerifier(),
		CodeVerifier: oauth2.GenerateVerifier(),
	}
	req.URL = p.oauth2.AuthCodeURL(req.State,
		oidc.Nonce(req.Nonce),
		oauth2.S256ChallengeOption(req.CodeVerifier),
	)
	return req
}

// Complete 驗證 callback 的 state，交換授權碼並驗證 ID token
func (p *Provider) Complete(ctx context.Context, req AuthRequest, code, state string) (*Claims, error) {
	const op = "oidc.Provider.Complete"
	if req.State == "" || subtle.ConstantTimeCompare([]byte(req.State), []byte(state)) != 1 {
		return nil, ErrStateMismatch
	}

	token, err := p.oauth2.Exchange(ctx, code, oauth2.VerifierOption(req.CodeVerifier))
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to exchange token, err=%w", op, err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, ErrMissingToken
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to verify ID token, err=%w", op, err)
	}
	if subtle.ConstantTimeCompare([]byte(req.Nonce), []byte(idToken.Nonce)) != 1 {
		return nil, ErrNonceMismatch
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("[%s] Fail to parse ID token claims, err=%w", op, err)
	}
	return &claims, nil
}
