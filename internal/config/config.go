package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Membership service admin API.
	MembershipAPIURL    string
	MembershipAdminUUID string
	MembershipAPISecret string
	ServiceTokenTTL     time.Duration

	// Identity provider tenant and app registration.
	IDPTenantID           string
	IDPClientID           string
	IDPClientSecret       string
	IDPTenantDomain       string
	IDPExtensionsClientID string
	IDPGraphURL           string
	IDPLoginURL           string

	// Outbound HTTP behavior.
	HTTPClientTimeout time.Duration
	RetryAttempts     int
	RetryBaseDelay    time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("APP_ENV", "development"),
		HTTPAddr: getEnv("HTTP_ADDR", ":3050"),

		MembershipAPIURL:    strings.TrimRight(getEnv("MEMBERSHIP_API_URL", ""), "/"),
		MembershipAdminUUID: getEnv("MEMBERSHIP_ADMIN_UUID", ""),
		MembershipAPISecret: getEnv("MEMBERSHIP_API_SECRET", ""),
		ServiceTokenTTL:     mustDuration(getEnv("SERVICE_TOKEN_TTL", "60s")),

		IDPTenantID:           getEnv("IDP_TENANT_ID", ""),
		IDPClientID:           getEnv("IDP_CLIENT_ID", ""),
		IDPClientSecret:       getEnv("IDP_CLIENT_SECRET", ""),
		IDPTenantDomain:       getEnv("IDP_TENANT_DOMAIN", ""),
		IDPExtensionsClientID: getEnv("IDP_EXTENSIONS_CLIENT_ID", ""),
		IDPGraphURL:           strings.TrimRight(getEnv("IDP_GRAPH_URL", "https://graph.microsoft.com/v1.0"), "/"),
		IDPLoginURL:           strings.TrimRight(getEnv("IDP_LOGIN_URL", "https://login.microsoftonline.com"), "/"),

		HTTPClientTimeout: mustDuration(getEnv("HTTP_CLIENT_TIMEOUT", "10s")),
		RetryAttempts:     mustInt(getEnv("OUTBOUND_RETRY_ATTEMPTS", "3")),
		RetryBaseDelay:    mustDuration(getEnv("OUTBOUND_RETRY_BASE_DELAY", "250ms")),
	}

	if cfg.MembershipAPIURL == "" {
		return nil, fmt.Errorf("MEMBERSHIP_API_URL is required")
	}
	if cfg.MembershipAdminUUID == "" || cfg.MembershipAPISecret == "" {
		return nil, fmt.Errorf("MEMBERSHIP_ADMIN_UUID and MEMBERSHIP_API_SECRET are required")
	}
	if cfg.IDPTenantID == "" || cfg.IDPClientID == "" || cfg.IDPClientSecret == "" {
		return nil, fmt.Errorf("IDP_TENANT_ID, IDP_CLIENT_ID and IDP_CLIENT_SECRET are required")
	}
	if cfg.IDPTenantDomain == "" {
		return nil, fmt.Errorf("IDP_TENANT_DOMAIN is required")
	}
	if cfg.IDPExtensionsClientID == "" {
		return nil, fmt.Errorf("IDP_EXTENSIONS_CLIENT_ID is required")
	}
	if cfg.ServiceTokenTTL <= 0 {
		return nil, fmt.Errorf("SERVICE_TOKEN_TTL must be a positive duration")
	}
	if cfg.HTTPClientTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_CLIENT_TIMEOUT must be a positive duration")
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("OUTBOUND_RETRY_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return n
}
