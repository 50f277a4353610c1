// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// MinSessionSecretBytes はSESSION_SECRETに要求する最小バイト数。
const MinSessionSecretBytes = 16

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL       string        `env:"DATABASE_URL"`
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS"    envDefault:"25"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS"    envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// OAuth
	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `env:"GOOGLE_REDIRECT_URL"`

	// Auth
	SessionSecret   string `env:"SESSION_SECRET"`
	SessionMaxAge   int    `env:"SESSION_MAX_AGE"   envDefault:"604800"`
	DefaultRoleName string `env:"DEFAULT_ROLE_NAME" envDefault:"Guest"`
	BcryptCost      int    `env:"BCRYPT_COST"       envDefault:"10"`

	// 登録時に自分で選べるロール名。未設定の場合は任意の既存ロールを受け付ける
	SelfRegisterRoles []string `env:"SELF_REGISTER_ROLES" envSeparator:","`

	// Rate Limit（1分あたりのリクエスト数。LOGINのみメールアドレス単位、他はIP単位）
	RateLimitAuth    int  `env:"RATE_LIMIT_AUTH"    envDefault:"20"`
	RateLimitGeneral int  `env:"RATE_LIMIT_GENERAL" envDefault:"300"`
	RateLimitLogin   int  `env:"RATE_LIMIT_LOGIN"   envDefault:"10"`
	TrustProxy       bool `env:"TRUST_PROXY"        envDefault:"false"`

	// Worker
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"1h"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL"                   envDefault:"info"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// Redirects（未設定の場合はBASE_URLから導出）
	AuthSuccessRedirect string `env:"AUTH_SUCCESS_REDIRECT"`
	AuthFailureRedirect string `env:"AUTH_FAILURE_REDIRECT"`

	// Cookie
	CookieSecure bool `env:"-"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS / CSRF
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	CSRFEnabled        bool     `env:"CSRF_ENABLED"         envDefault:"true"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	var missing []string
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(cfg.SessionSecret) < MinSessionSecretBytes {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretBytes)
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %d", cfg.SessionMaxAge)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", cfg.SessionCleanupInterval)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	if cfg.AuthSuccessRedirect == "" {
		cfg.AuthSuccessRedirect = cfg.BaseURL
	}
	if cfg.AuthFailureRedirect == "" {
		cfg.AuthFailureRedirect = cfg.BaseURL + "/login?error=oauth"
	}
	cfg.CORSAllowedOrigins = trimList(cfg.CORSAllowedOrigins)
	cfg.SelfRegisterRoles = trimList(cfg.SelfRegisterRoles)

	return cfg, nil
}

// GoogleEnabled はGoogleログインに必要な3つの値がすべて設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func trimList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, o := range items {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
