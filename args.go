package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cipherbid/api"
)

func ParseArgs() Args {
	hostname, _ := os.Hostname()

	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("instance-id", hostname, "consumer name of this instance")
	pflag.String("log-level", "info", "debug, info, warn or error")

	// access token config
	pflag.String("auth-private-key", "", "ed25519 seed or private key, hex or base64")
	pflag.String("auth-issuer", "cipherbid", "")
	pflag.String("auth-audience", "cipherbid-api", "")
	pflag.Duration("auth-expire-duration", 0, "")

	// oidc config
	// 每個提供者的設定從 oidc-<name>-issuer-url 等參數讀取，通常由環境變數提供
	pflag.StringSlice("oidc-providers", nil, "")
	pflag.String("oidc-redirect-base-url", "", "")

	// s3 config
	pflag.String("s3-endpoint", "", "")
	pflag.String("s3-region", "us-east-1", "")
	pflag.String("s3-bucket", "", "")
	pflag.String("s3-public-base-url", "", "")
	pflag.String("s3-access-key-id", "", "")
	pflag.String("s3-secret-access-key", "", "")
	pflag.Bool("s3-use-path-style", false, "")
	pflag.Duration("s3-upload-timeout", 10*time.Second, "")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "", "")

	// redis config
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "cipherbid:", "")
	pflag.String("redis-stream-key-for-events", "cipherbid-shared-event-stream", "")
	pflag.Int64("redis-stream-max-len", 10000, "")
	pflag.String("redis-consumer-group", "receipt-archiver", "")
	pflag.Duration("redis-lease-expiry", 0, "")

	// session config
	pflag.String("session-cookie-name", "", "")
	pflag.Duration("session-cookie-max-age", 0, "")
	pflag.Bool("session-cookie-secure", true, "")

	// fhe config
	pflag.String("fhe-signer-seed", "", "hex encoded, at least 32 bytes")
	pflag.Duration("fhe-call-timeout", 0, "")
	pflag.Bool("fhe-dev-inputs", false, "expose POST /inputs")

	// sse config
	pflag.Int("sse-buffer-size", 16, "")
	pflag.Duration("sse-keep-alive", 30*time.Second, "")

	// rate limit config
	pflag.Int("rate-limit-capacity", 0, "0 disables the bid rate limit")
	pflag.Float64("rate-limit-refill-per-sec", 1, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("CIPHERBID")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	var errs []error
	privateKey, err := parsePrivateKey(viper.GetString("auth-private-key"))
	if err != nil {
		errs = append(errs, err)
	}
	signerSeed, err := hex.DecodeString(viper.GetString("fhe-signer-seed"))
	if err != nil {
		errs = append(errs, fmt.Errorf("fhe-signer-seed: %w", err))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}

	providers := make(map[string]api.OIDCProviderConfig)
	for _, name := range viper.GetStringSlice("oidc-providers") {
		prefix := "oidc-" + name + "-"
		providers[name] = api.OIDCProviderConfig{
			IssuerURL:    viper.GetString(prefix + "issuer-url"),
			ClientID:     viper.GetString(prefix + "client-id"),
			ClientSecret: viper.GetString(prefix + "client-secret"),
		}
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  level,
		parseErr:  errors.Join(errs...),
		ServerConfig: api.ServerConfig{
			ID: viper.GetString("instance-id"),
			Auth: api.AuthConfig{
				PrivateKey:     privateKey,
				Issuer:         viper.GetString("auth-issuer"),
				Audience:       viper.GetString("auth-audience"),
				ExpireDuration: viper.GetDuration("auth-expire-duration"),
			},
			OIDC: api.OIDCConfig{
				RedirectBaseURL: viper.GetString("oidc-redirect-base-url"),
				Providers:       providers,
			},
			S3: api.S3Config{
				Endpoint:        viper.GetString("s3-endpoint"),
				Region:          viper.GetString("s3-region"),
				Bucket:          viper.GetString("s3-bucket"),
				PublicBaseURL:   viper.GetString("s3-public-base-url"),
				AccessKeyID:     viper.GetString("s3-access-key-id"),
				SecretAccessKey: viper.GetString("s3-secret-access-key"),
				UsePathStyle:    viper.GetBool("s3-use-path-style"),
				UploadTimeout:   viper.GetDuration("s3-upload-timeout"),
			},
			DB: api.DBConfig{
				User:     viper.GetString("db-user"),
				Password: viper.GetString("db-password"),
				Host:     viper.GetString("db-host"),
				Port:     viper.GetInt("db-port"),
				Database: viper.GetString("db-database"),
				Schema:   viper.GetString("db-schema"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Events: viper.GetString("redis-stream-key-for-events"),
				},
				StreamMaxLen:  viper.GetInt64("redis-stream-max-len"),
				ConsumerGroup: viper.GetString("redis-consumer-group"),
				LeaseExpiry:   viper.GetDuration("redis-lease-expiry"),
			},
			Session: api.SessionConfig{
				CookieName:   viper.GetString("session-cookie-name"),
				CookieMaxAge: viper.GetDuration("session-cookie-max-age"),
				CookieSecure: viper.GetBool("session-cookie-secure"),
			},
			FHE: api.FHEConfig{
				SignerSeed:  signerSeed,
				CallTimeout: viper.GetDuration("fhe-call-timeout"),
				DevInputs:   viper.GetBool("fhe-dev-inputs"),
			},
			RateLimit: api.RateLimitConfig{
				Capacity:     viper.GetInt("rate-limit-capacity"),
				RefillPerSec: viper.GetFloat64("rate-limit-refill-per-sec"),
			},
			SSE: api.SSEConfig{
				BufferSize: viper.GetInt("sse-buffer-size"),
				KeepAlive:  viper.GetDuration("sse-keep-alive"),
			},
		},
	}
}

type Args struct {
	ServerURL    string
	LogLevel     slog.Level
	ServerConfig api.ServerConfig

	parseErr error
}

func (args Args) Validate() error {
	if args.parseErr != nil {
		return args.parseErr
	}
	config := args.ServerConfig
	var missing []string
	if args.ServerURL == "" {
		missing = append(missing, "server-url")
	}
	if config.ID == "" {
		missing = append(missing, "instance-id")
	}
	if config.Auth.PrivateKey == nil {
		missing = append(missing, "auth-private-key")
	}
	if config.DB.Host == "" || config.DB.Database == "" {
		missing = append(missing, "db-host", "db-database")
	}
	if config.Redis.Addr == "" {
		missing = append(missing, "redis-addr")
	}
	if len(config.OIDC.Providers) > 0 && config.OIDC.RedirectBaseURL == "" {
		missing = append(missing, "oidc-redirect-base-url")
	}
	for name, p := range config.OIDC.Providers {
		if p.IssuerURL == "" || p.ClientID == "" {
			missing = append(missing, "oidc-"+name+"-issuer-url", "oidc-"+name+"-client-id")
		}
	}
	if config.S3.Enabled() && config.S3.PublicBaseURL == "" {
		missing = append(missing, "s3-public-base-url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing arguments: %s", strings.Join(lo.Uniq(missing), ", "))
	}
	return nil
}

// parsePrivateKey 接受 32 bytes 的 seed 或 64 bytes 的完整私鑰
func parsePrivateKey(s string) (ed25519.PrivateKey, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.New("auth-private-key: neither hex nor base64")
		}
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, fmt.Errorf("auth-private-key: unexpected key length %d", len(raw))
	}
}
