package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load
// (e.g. GATEKEEPER_DATABASE_URL, GATEKEEPER_KEYCLOAK_REALM).
const EnvPrefix = "GATEKEEPER"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Maximum database connection pool size
	MaxDBConnections int

	// Enable debug logging
	Debug bool

	// Log output format: "text" or "json"
	LogFormat string

	Keycloak      KeycloakConfig
	Authz         AuthzConfig
	Merchants     MerchantsConfig
	Identity      IdentityConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// KeycloakConfig describes how the service reaches the identity provider.
//
// The provider is reachable under two hostnames: URL is the address the
// backend uses (container network), ExternalURL is the address browsers and
// the storefront use. Tokens minted through either path carry a different
// issuer for the same realm, so both are accepted.
type KeycloakConfig struct {
	URL          string
	ExternalURL  string
	Realm        string
	ExtraIssuers []string

	// Admin API credentials (password grant against AdminRealm, client admin-cli)
	AdminRealm    string
	AdminUsername string
	AdminPassword string

	// RequestTimeout bounds every outbound call to the provider
	RequestTimeout time.Duration

	JWKSCacheTTL         time.Duration
	JWKSRefreshPerMinute int
	GroupCacheTTL        time.Duration
}

// Issuers returns the accepted token issuers for the configured realm.
// Duplicates are dropped, order is preserved.
func (k KeycloakConfig) Issuers() []string {
	candidates := []string{k.realmURL(k.URL), k.realmURL(k.ExternalURL)}
	candidates = append(candidates, k.ExtraIssuers...)

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, iss := range candidates {
		iss = strings.TrimRight(strings.TrimSpace(iss), "/")
		if iss == "" {
			continue
		}
		if _, dup := seen[iss]; dup {
			continue
		}
		seen[iss] = struct{}{}
		out = append(out, iss)
	}
	return out
}

// JWKSURL is the key-set endpoint of the realm, reached through the internal URL.
func (k KeycloakConfig) JWKSURL() string {
	return k.realmURL(k.URL) + "/protocol/openid-connect/certs"
}

// JWKSRefreshRateLimit converts the per-minute budget into the minimum
// spacing between two key-set fetches.
func (k KeycloakConfig) JWKSRefreshRateLimit() time.Duration {
	if k.JWKSRefreshPerMinute <= 0 {
		return time.Minute
	}
	return time.Minute / time.Duration(k.JWKSRefreshPerMinute)
}

func (k KeycloakConfig) realmURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return base + "/realms/" + k.Realm
}

// AuthzConfig holds capability evaluation settings
type AuthzConfig struct {
	// PrivilegedGroup bypasses ownership checks (default "owner")
	PrivilegedGroup string

	// ResolverTimeout bounds a single resource-owner lookup
	ResolverTimeout time.Duration
}

// MerchantsConfig holds merchant onboarding settings
type MerchantsConfig struct {
	DefaultCommissionRate float64

	// AllowTerminalOverride permits APPROVED <-> REJECTED transitions.
	// Every use is logged at warn level.
	AllowTerminalOverride bool
}

// IdentityConfig holds registration saga settings
type IdentityConfig struct {
	// CompensateRegistration deletes the provider account when the local
	// shadow write fails after the account was created.
	CompensateRegistration bool
}

// KafkaConfig configures the lifecycle event publisher.
// An empty broker list disables Kafka publication.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// Enabled reports whether at least one broker is configured
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// ObservabilityConfig holds OpenTelemetry settings
type ObservabilityConfig struct {
	OTLPEndpoint string
	OTLPProtocol string
	OTLPInsecure bool
	ServiceName  string
	Environment  string
}

// setDefaults registers every key so that AutomaticEnv can resolve it
func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "sqlite://gatekeeper.db")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "text")

	v.SetDefault("keycloak.url", "http://keycloak:8080")
	v.SetDefault("keycloak.external_url", "http://192.168.226.128:8081")
	v.SetDefault("keycloak.realm", "marketplace")
	v.SetDefault("keycloak.extra_issuers", "")
	v.SetDefault("keycloak.admin_realm", "master")
	v.SetDefault("keycloak.admin_username", "admin")
	v.SetDefault("keycloak.admin_password", "admin")
	v.SetDefault("keycloak.request_timeout", 10*time.Second)
	v.SetDefault("keycloak.jwks_cache_ttl", 24*time.Hour)
	v.SetDefault("keycloak.jwks_refresh_per_minute", 10)
	v.SetDefault("keycloak.group_cache_ttl", 5*time.Minute)

	v.SetDefault("authz.privileged_group", "owner")
	v.SetDefault("authz.resolver_timeout", 5*time.Second)

	v.SetDefault("merchants.default_commission_rate", 0.05)
	v.SetDefault("merchants.allow_terminal_override", false)

	v.SetDefault("identity.compensate_registration", false)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "merchant-lifecycle")
	v.SetDefault("kafka.client_id", "gatekeeper")

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http/protobuf")
	v.SetDefault("observability.otlp_insecure", true)
	v.SetDefault("observability.service_name", "gatekeeper")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance: config file (if
// one was read by the caller), GATEKEEPER_ environment variables and defaults,
// in increasing order of precedence for env over file.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		DatabaseURL:      v.GetString("database_url"),
		ServerAddr:       v.GetString("server_addr"),
		MaxDBConnections: v.GetInt("max_db_connections"),
		Debug:            v.GetBool("debug"),
		LogFormat:        strings.ToLower(v.GetString("log_format")),
		Keycloak: KeycloakConfig{
			URL:                  v.GetString("keycloak.url"),
			ExternalURL:          v.GetString("keycloak.external_url"),
			Realm:                v.GetString("keycloak.realm"),
			ExtraIssuers:         getList(v, "keycloak.extra_issuers"),
			AdminRealm:           v.GetString("keycloak.admin_realm"),
			AdminUsername:        v.GetString("keycloak.admin_username"),
			AdminPassword:        v.GetString("keycloak.admin_password"),
			RequestTimeout:       v.GetDuration("keycloak.request_timeout"),
			JWKSCacheTTL:         v.GetDuration("keycloak.jwks_cache_ttl"),
			JWKSRefreshPerMinute: v.GetInt("keycloak.jwks_refresh_per_minute"),
			GroupCacheTTL:        v.GetDuration("keycloak.group_cache_ttl"),
		},
		Authz: AuthzConfig{
			PrivilegedGroup: v.GetString("authz.privileged_group"),
			ResolverTimeout: v.GetDuration("authz.resolver_timeout"),
		},
		Merchants: MerchantsConfig{
			DefaultCommissionRate: v.GetFloat64("merchants.default_commission_rate"),
			AllowTerminalOverride: v.GetBool("merchants.allow_terminal_override"),
		},
		Identity: IdentityConfig{
			CompensateRegistration: v.GetBool("identity.compensate_registration"),
		},
		Kafka: KafkaConfig{
			Brokers:  getList(v, "kafka.brokers"),
			Topic:    v.GetString("kafka.topic"),
			ClientID: v.GetString("kafka.client_id"),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: v.GetString("observability.otlp_endpoint"),
			OTLPProtocol: v.GetString("observability.otlp_protocol"),
			OTLPInsecure: v.GetBool("observability.otlp_insecure"),
			ServiceName:  v.GetString("observability.service_name"),
			Environment:  v.GetString("observability.environment"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s_DATABASE_URL is required", EnvPrefix)
	}
	if c.Keycloak.URL == "" {
		return fmt.Errorf("%s_KEYCLOAK_URL is required", EnvPrefix)
	}
	if c.Keycloak.Realm == "" {
		return fmt.Errorf("%s_KEYCLOAK_REALM is required", EnvPrefix)
	}
	if c.Keycloak.JWKSRefreshPerMinute < 1 {
		return fmt.Errorf("keycloak.jwks_refresh_per_minute must be at least 1, got %d", c.Keycloak.JWKSRefreshPerMinute)
	}
	if c.Keycloak.RequestTimeout <= 0 {
		return fmt.Errorf("keycloak.request_timeout must be positive")
	}
	if r := c.Merchants.DefaultCommissionRate; r < 0 || r > 1 {
		return fmt.Errorf("merchants.default_commission_rate must be within [0,1], got %v", r)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// getList accepts both YAML sequences and comma separated env values
func getList(v *viper.Viper, key string) []string {
	raw := v.Get(key)
	var parts []string
	switch val := raw.(type) {
	case []string:
		parts = val
	case []any:
		for _, item := range val {
			parts = append(parts, fmt.Sprint(item))
		}
	case string:
		parts = strings.Split(val, ",")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
