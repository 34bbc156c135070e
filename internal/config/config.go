package config

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr    string
	PublicBaseURL string

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	JWTSecret       string
	JWTIssuer       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	SessionCookieName  string
	CSRFCookieName     string
	CookieSecureMode   string
	TrustProxy         bool
	CORSAllowedOrigins []string

	PasswordMinLength int
	PasswordMaxLength int

	RequireEmailConfirmation bool
	ConfirmTokenTTL          time.Duration

	AdminRoleCacheTTL  time.Duration
	AdminRoleCacheSize int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	NotifySender string
	NotifyFrom   string

	MemberDirectoryDriver    string
	MemberDirectoryDSN       string
	MemberDirectoryTable     string
	MemberDirectoryEmailCol  string
	MemberDirectoryNameCol   string
	MemberDirectoryActiveCol string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
	ShutdownTimeout          time.Duration

	AuthRateLimit  int
	AuthRateWindow time.Duration

	CaptchaEnabled   bool
	CaptchaProvider  string
	CaptchaVerifyURL string
	CaptchaSecret    string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	LogLevel  slog.Level
	LogFormat string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr:               env("LISTEN_ADDR", ":8080"),
		PublicBaseURL:            strings.TrimRight(env("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		DBPath:                   env("APP_DB_PATH", "./data/devforum.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		JWTSecret:                env("JWT_SECRET", ""),
		JWTIssuer:                env("JWT_ISSUER", "devforum"),
		AccessTokenTTL:           envDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:          envDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		SessionCookieName:        env("SESSION_COOKIE_NAME", "devforum_session"),
		CSRFCookieName:           env("CSRF_COOKIE_NAME", "devforum_csrf"),
		CookieSecureMode:         cookieSecureMode(),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		PasswordMinLength:        envInt("PASSWORD_MIN_LENGTH", 8),
		PasswordMaxLength:        envInt("PASSWORD_MAX_LENGTH", 128),
		RequireEmailConfirmation: envBool("REQUIRE_EMAIL_CONFIRMATION", false),
		ConfirmTokenTTL:          envDuration("CONFIRM_TOKEN_TTL", 48*time.Hour),
		AdminRoleCacheTTL:        envDuration("ADMIN_ROLE_CACHE_TTL", 5*time.Minute),
		AdminRoleCacheSize:       envInt("ADMIN_ROLE_CACHE_SIZE", 1024),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		SMTPUsername:             env("SMTP_USERNAME", ""),
		SMTPPassword:             env("SMTP_PASSWORD", ""),
		NotifySender:             strings.ToLower(env("NOTIFY_SENDER", "log")),
		NotifyFrom:               env("NOTIFY_FROM", "no-reply@devforum.local"),
		MemberDirectoryDriver:    strings.ToLower(env("MEMBER_DIRECTORY_DRIVER", "")),
		MemberDirectoryDSN:       env("MEMBER_DIRECTORY_DSN", ""),
		MemberDirectoryTable:     env("MEMBER_DIRECTORY_TABLE", "members"),
		MemberDirectoryEmailCol:  env("MEMBER_DIRECTORY_EMAIL_COL", "email"),
		MemberDirectoryNameCol:   env("MEMBER_DIRECTORY_NAME_COL", "display_name"),
		MemberDirectoryActiveCol: env("MEMBER_DIRECTORY_ACTIVE_COL", "active"),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		ShutdownTimeout:          envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		AuthRateLimit:            envInt("AUTH_RATE_LIMIT", 10),
		AuthRateWindow:           envDuration("AUTH_RATE_WINDOW", time.Minute),
		CaptchaEnabled:           envBool("CAPTCHA_ENABLED", false),
		CaptchaProvider:          strings.ToLower(env("CAPTCHA_PROVIDER", "turnstile")),
		CaptchaVerifyURL:         env("CAPTCHA_VERIFY_URL", ""),
		CaptchaSecret:            env("CAPTCHA_SECRET", ""),
		BootstrapAdminEmail:      env("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
		LogFormat:                strings.ToLower(env("LOG_FORMAT", "json")),
	}

	lvl, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	cfg.LogLevel = lvl
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be one of: json, text")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.AccessTokenTTL <= 0 || cfg.RefreshTokenTTL <= 0 {
		return Config{}, fmt.Errorf("token lifetimes must be positive")
	}
	if cfg.RefreshTokenTTL < cfg.AccessTokenTTL {
		return Config{}, fmt.Errorf("REFRESH_TOKEN_TTL must be >= ACCESS_TOKEN_TTL")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be set to a strong value (>=32 chars)")
	}
	if cfg.PasswordMinLength < 8 {
		return Config{}, fmt.Errorf("password min length must be >= 8")
	}
	if cfg.PasswordMaxLength < cfg.PasswordMinLength {
		return Config{}, fmt.Errorf("password max length must be >= min length")
	}
	if cfg.AdminRoleCacheTTL <= 0 || cfg.AdminRoleCacheSize <= 0 {
		return Config{}, fmt.Errorf("admin role cache ttl and size must be positive")
	}
	if cfg.SMTPPort <= 0 {
		return Config{}, fmt.Errorf("invalid SMTP port")
	}
	if cfg.AuthRateLimit <= 0 || cfg.AuthRateWindow <= 0 {
		return Config{}, fmt.Errorf("auth rate limit must be positive")
	}
	switch cfg.NotifySender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("NOTIFY_SENDER must be one of: log, smtp")
	}
	switch cfg.CookieSecureMode {
	case "always", "never", "auto":
	default:
		return Config{}, fmt.Errorf("COOKIE_SECURE_MODE must be one of: always, never, auto")
	}
	if cfg.CookieSecureMode == "never" && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("insecure cookies are allowed only for local listen addresses")
	}
	switch cfg.MemberDirectoryDriver {
	case "", "none", "mysql", "pgx":
	default:
		return Config{}, fmt.Errorf("MEMBER_DIRECTORY_DRIVER must be one of: mysql, pgx, none")
	}
	if (cfg.MemberDirectoryDriver == "mysql" || cfg.MemberDirectoryDriver == "pgx") &&
		strings.TrimSpace(cfg.MemberDirectoryDSN) == "" {
		return Config{}, fmt.Errorf("MEMBER_DIRECTORY_DSN is required for driver %s", cfg.MemberDirectoryDriver)
	}
	if cfg.CaptchaEnabled {
		if cfg.CaptchaVerifyURL == "" {
			cfg.CaptchaVerifyURL = defaultCaptchaVerifyURL(cfg.CaptchaProvider)
		}
		if cfg.CaptchaVerifyURL == "" {
			return Config{}, fmt.Errorf("CAPTCHA_VERIFY_URL is required for provider %s", cfg.CaptchaProvider)
		}
		if strings.TrimSpace(cfg.CaptchaSecret) == "" {
			return Config{}, fmt.Errorf("CAPTCHA_SECRET is required when CAPTCHA_ENABLED=true")
		}
	}
	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return Config{}, fmt.Errorf("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	return cfg, nil
}

// ResolveCookieSecure decides the Secure flag for cookies set on r.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	switch c.CookieSecureMode {
	case "always":
		return true
	case "never":
		return false
	}
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
		return true
	}
	return false
}

// SetupLogger installs the process-wide slog logger.
func SetupLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func defaultCaptchaVerifyURL(provider string) string {
	switch provider {
	case "turnstile":
		return "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	case "hcaptcha":
		return "https://api.hcaptcha.com/siteverify"
	}
	return ""
}

func cookieSecureMode() string {
	if v := strings.ToLower(strings.TrimSpace(os.Getenv("COOKIE_SECURE_MODE"))); v != "" {
		return v
	}
	// COOKIE_SECURE predates the mode switch
	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		if envBool("COOKIE_SECURE", false) {
			return "always"
		}
		return "never"
	}
	return "auto"
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q", level)
	}
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envDuration(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return d
	}
	return dur
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
