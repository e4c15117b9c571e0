package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（空の場合はインメモリ実装にフォールバックする）
	RedisURL string

	// Session
	SessionMaxAge int

	// Login lockout
	LoginMaxAttempts int
	LoginLockout     time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitAuth    int

	// Simulado
	SimuladoCacheTTL time.Duration

	// Backend proxy
	BackendAPIURL    string
	BackendJWTSecret string

	// Edital fetch
	EditalFetchTimeout       time.Duration
	EditalFetchMaxSize       int64
	EditalFetchMaxConcurrent int
	EditalFetchInterval      time.Duration

	// Cleanup
	RetentionDays int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// sync コマンドの接続先
	APIBaseURL string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// X-Forwarded-For を信頼するプロキシのアドレス範囲
	TrustedProxies []netip.Prefix
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env が存在する場合は先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.LoginMaxAttempts = getEnvInt("LOGIN_MAX_ATTEMPTS", 3)
	cfg.LoginLockout = getEnvDuration("LOGIN_LOCKOUT", 5*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 20)
	cfg.SimuladoCacheTTL = getEnvDuration("SIMULADO_CACHE_TTL", 5*time.Minute)
	cfg.BackendAPIURL = strings.TrimRight(getEnvString("BACKEND_API_URL", ""), "/")
	cfg.BackendJWTSecret = getEnvString("BACKEND_JWT_SECRET", "")
	cfg.EditalFetchTimeout = getEnvDuration("EDITAL_FETCH_TIMEOUT", 10*time.Second)
	cfg.EditalFetchMaxSize = getEnvInt64("EDITAL_FETCH_MAX_SIZE", 5242880)
	cfg.EditalFetchMaxConcurrent = getEnvInt("EDITAL_FETCH_MAX_CONCURRENT", 5)
	cfg.EditalFetchInterval = getEnvDuration("EDITAL_FETCH_INTERVAL", 15*time.Minute)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 30)
	loadClientFields(cfg)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.LoginMaxAttempts <= 0 {
		return nil, fmt.Errorf("LOGIN_MAX_ATTEMPTS must be positive, got %d", cfg.LoginMaxAttempts)
	}
	if cfg.LoginLockout <= 0 {
		return nil, fmt.Errorf("LOGIN_LOCKOUT must be positive, got %v", cfg.LoginLockout)
	}

	proxies, err := parsePrefixes(os.Getenv("TRUSTED_PROXIES"))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies

	// プロキシを有効にする場合は署名鍵が必須
	if cfg.BackendAPIURL != "" && cfg.BackendJWTSecret == "" {
		return nil, fmt.Errorf("BACKEND_JWT_SECRET is required when BACKEND_API_URL is set")
	}

	return cfg, nil
}

// LoadClient は sync コマンド用の設定を読み込む。
// APIの外側から動くためデータベースやBASE_URLは要求しない。
func LoadClient() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg := &Config{}
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	loadClientFields(cfg)
	return cfg, nil
}

func loadClientFields(cfg *Config) {
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", "http://localhost:"+cfg.ServerPort), "/")
}

// parsePrefixes はカンマ区切りのCIDRまたはIPアドレスを解析する。
// 単独のIPアドレスはそのホストだけを表すプレフィックスになる。
func parsePrefixes(v string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "/") {
			p, err := netip.ParsePrefix(part)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(part)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// loadDotEnv は指定された .env ファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
