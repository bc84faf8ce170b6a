// Package config reads server configuration from the environment.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and behavior settings for the
// entitlement cache and offer code store.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	EntitlementTTL     time.Duration
	OfferCodeTTL       time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// StoreAPIConfig holds the external store transaction API settings.
type StoreAPIConfig struct {
	PurchaseURL        string
	SandboxPurchaseURL string
	FinishURL          string
	SharedSecret       string
	Timeout            time.Duration
	SigningKeyFile     string
}

// HTTPConfig holds the public API listener and ingress rate limit settings.
type HTTPConfig struct {
	Addr              string
	RateLimitInterval time.Duration
	RateLimitBurst    int
	GracePeriod       time.Duration
	PaywallDir        string
}

// EntitlementsConfig holds backend sync endpoints and reliability knobs.
type EntitlementsConfig struct {
	SyncURL         string
	RevokeURL       string
	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	BreakerFailures int
	BreakerCooldown time.Duration
	RateInterval    time.Duration
	RateBurst       int
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}

	url, err := requiredString("REDIS_URL")
	if err != nil {
		return cfg, err
	}
	cfg.URL = url

	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	if cfg.HealthcheckTimeout, err = requiredDuration("REDIS_HEALTHCHECK_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.EntitlementTTL, err = requiredDuration("REDIS_ENTITLEMENT_TTL"); err != nil {
		return cfg, err
	}
	if cfg.OfferCodeTTL, err = durationOrDefault("REDIS_OFFER_CODE_TTL", 0); err != nil {
		return cfg, err
	}
	if cfg.StreamMaxLen, err = requiredInt64("REDIS_STREAM_MAXLEN"); err != nil {
		return cfg, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadStoreAPI reads the store transaction API settings from env.
func LoadStoreAPI() (StoreAPIConfig, error) {
	cfg := StoreAPIConfig{
		SandboxPurchaseURL: strings.TrimSpace(os.Getenv("STORE_SANDBOX_PURCHASE_URL")),
		SharedSecret:       strings.TrimSpace(os.Getenv("STORE_SHARED_SECRET")),
	}

	var err error
	if cfg.PurchaseURL, err = requiredString("STORE_PURCHASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.FinishURL, err = requiredString("STORE_FINISH_URL"); err != nil {
		return cfg, err
	}
	if cfg.SigningKeyFile, err = requiredString("STORE_SIGNING_KEY_FILE"); err != nil {
		return cfg, err
	}
	if cfg.Timeout, err = durationOrDefault("STORE_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadHTTP reads the public API listener settings from env.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		PaywallDir: strings.TrimSpace(os.Getenv("PAYWALL_DIR")),
	}

	var err error
	if cfg.Addr, err = requiredString("HTTP_ADDR"); err != nil {
		return cfg, err
	}
	if cfg.RateLimitInterval, err = requiredDuration("HTTP_RATE_LIMIT_INTERVAL"); err != nil {
		return cfg, err
	}
	if cfg.RateLimitBurst, err = requiredInt("HTTP_RATE_LIMIT_BURST"); err != nil {
		return cfg, err
	}
	if cfg.GracePeriod, err = durationOrDefault("SUBSCRIPTION_GRACE_PERIOD", 16*24*time.Hour); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadEntitlements reads backend sync and reliability settings from env.
// SyncURL empty means the in-memory backend is used.
func LoadEntitlements() (EntitlementsConfig, error) {
	cfg := EntitlementsConfig{
		SyncURL:   strings.TrimSpace(os.Getenv("ENTITLEMENT_SYNC_URL")),
		RevokeURL: strings.TrimSpace(os.Getenv("ENTITLEMENT_REVOKE_URL")),
	}

	var err error
	if cfg.RequestTimeout, err = durationOrDefault("ENTITLEMENT_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RetryAttempts, err = intOrDefault("ENTITLEMENT_RETRY_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = durationOrDefault("ENTITLEMENT_RETRY_BASE_DELAY", 100*time.Millisecond); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = durationOrDefault("ENTITLEMENT_RETRY_MAX_DELAY", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BreakerFailures, err = intOrDefault("ENTITLEMENT_BREAKER_FAILURES", 5); err != nil {
		return cfg, err
	}
	if cfg.BreakerCooldown, err = durationOrDefault("ENTITLEMENT_BREAKER_COOLDOWN", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.RateInterval, err = durationOrDefault("ENTITLEMENT_RATE_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if cfg.RateBurst, err = intOrDefault("ENTITLEMENT_RATE_BURST", 0); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// GetDatabaseURL returns the required Postgres DSN from env.
func GetDatabaseURL() (string, error) {
	return requiredString("DATABASE_URL")
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}

func requiredInt(name string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredDuration(name string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func requiredInt64(name string) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}

func durationOrDefault(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return fallback, nil
	}
	return *val, nil
}

func intOrDefault(name string, fallback int) (int, error) {
	val, err := optionalInt(name)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return fallback, nil
	}
	return *val, nil
}
