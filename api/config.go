package api

import (
	"crypto/ed25519"
	"fmt"
	"net/url"
	"time"
)

type ServerConfig struct {
	// ID 是此服務實例的名稱，作為消費者群組中的消費者名稱
	ID        string
	Auth      AuthConfig
	OIDC      OIDCConfig
	S3        S3Config
	DB        DBConfig
	Redis     RedisConfig
	Session   SessionConfig
	FHE       FHEConfig
	RateLimit RateLimitConfig
	SSE       SSEConfig
}

type AuthConfig struct {
	PrivateKey     ed25519.PrivateKey
	Issuer         string
	Audience       string
	ExpireDuration time.Duration
}

type OIDCConfig struct {
	// RedirectBaseURL 是 callback 網址的前綴，例如 https://cipherbid.example.com
	RedirectBaseURL string
	Providers       map[string]OIDCProviderConfig
}

type OIDCProviderConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
}

type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	Region          string
	Bucket          string
	PublicBaseURL   string
	UsePathStyle    bool
	// UploadTimeout 是每張收據上傳的時間上限，0 使用預設值
	UploadTimeout time.Duration
}

// Enabled 沒有設定 bucket 時不封存收據
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     int
	Database string
	Schema   string
}

// DSN 組出 postgres 連線字串
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys    RedisStreamKeys
	StreamMaxLen  int64
	ConsumerGroup string
	// LeaseExpiry 是單一寫入者租約的過期時間
	LeaseExpiry time.Duration
}

type RedisStreamKeys struct {
	Events string
}

type SessionConfig struct {
	CookieName   string
	CookieMaxAge time.Duration
	CookieSecure bool
}

type FHEConfig struct {
	// SignerSeed 是輸入證明簽章金鑰的種子，空值時隨機產生
	SignerSeed  []byte
	CallTimeout time.Duration
	// DevInputs 開啟 POST /inputs，由服務代替客戶端加密
	DevInputs bool
}

type RateLimitConfig struct {
	// Capacity 為 0 時不限制
	Capacity     int
	RefillPerSec float64
}

type SSEConfig struct {
	// BufferSize 是每個連線的緩衝大小，跟不上的連線會被丟棄訊息
	BufferSize int
	KeepAlive  time.Duration
}
