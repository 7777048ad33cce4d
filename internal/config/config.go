package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth（3つ全てが設定された場合のみGoogleログインを有効にする）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge          int
	SessionCleanupInterval time.Duration

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral     int
	RateLimitIssueCreate int

	// Webhook（WebhookURLが空の場合は通知しない）
	WebhookURL     string
	WebhookTimeout time.Duration
	WebhookWorkers int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// defaults は任意項目の既定値。
var defaults = map[string]any{
	"SERVER_PORT":              "8080",
	"SESSION_MAX_AGE":          86400,
	"SESSION_CLEANUP_INTERVAL": time.Hour,
	"LOG_LEVEL":                "info",
	"RATE_LIMIT_GENERAL":       120,
	"RATE_LIMIT_ISSUE_CREATE":  30,
	"CORS_ALLOWED_ORIGIN":      "http://localhost:3000",
	"WEBHOOK_TIMEOUT":          10 * time.Second,
	"WEBHOOK_WORKERS":          4,
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合は未設定の項目をまとめてエラーとして返す。
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = strings.TrimSpace(v.GetString("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = strings.TrimSpace(v.GetString("BASE_URL"))
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.ServerPort = getString(v, "SERVER_PORT")
	cfg.SessionMaxAge = getPositiveInt(v, "SESSION_MAX_AGE")
	cfg.SessionCleanupInterval = getDuration(v, "SESSION_CLEANUP_INTERVAL")
	cfg.LogLevel = strings.ToLower(getString(v, "LOG_LEVEL"))
	cfg.RateLimitGeneral = getPositiveInt(v, "RATE_LIMIT_GENERAL")
	cfg.RateLimitIssueCreate = getPositiveInt(v, "RATE_LIMIT_ISSUE_CREATE")
	cfg.CORSAllowedOrigin = getString(v, "CORS_ALLOWED_ORIGIN")
	cfg.WebhookURL = v.GetString("WEBHOOK_URL")
	cfg.WebhookTimeout = getDuration(v, "WEBHOOK_TIMEOUT")
	cfg.WebhookWorkers = getPositiveInt(v, "WEBHOOK_WORKERS")
	cfg.GoogleClientID = v.GetString("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = v.GetString("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = v.GetString("GOOGLE_REDIRECT_URL")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = v.GetString("COOKIE_DOMAIN")

	return cfg, nil
}

// GoogleOAuthEnabled はGoogleログインに必要な設定が揃っているかを返す。
func (c *Config) GoogleOAuthEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// WebhookEnabled はWebhook通知が設定されているかを返す。
func (c *Config) WebhookEnabled() bool {
	return c.WebhookURL != ""
}

// defaultOf はキーの既定値を返す。
func defaultOf[T any](key string) T {
	return defaults[key].(T)
}

func getString(v *viper.Viper, key string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return defaultOf[string](key)
}

// getPositiveInt は整数として解釈できない値や0以下の値の場合に既定値を返す。
func getPositiveInt(v *viper.Viper, key string) int {
	i, err := strconv.Atoi(strings.TrimSpace(v.GetString(key)))
	if err != nil || i <= 0 {
		return defaultOf[int](key)
	}
	return i
}

// getDuration は期間として解釈できない値や0以下の値の場合に既定値を返す。
func getDuration(v *viper.Viper, key string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(v.GetString(key)))
	if err != nil || d <= 0 {
		return defaultOf[time.Duration](key)
	}
	return d
}
