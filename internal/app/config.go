package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration shared by the Datapult
// binaries. Each daemon reads the sections it needs; unknown sections are
// ignored so a single config file can drive the whole deployment.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Notify      NotifyConfig      `mapstructure:"notify"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Invites     InviteConfig      `mapstructure:"invites"`
	Bootstrap   BootstrapConfig   `mapstructure:"bootstrap"`
	Email       EmailConfig       `mapstructure:"email"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the auth service HTTP server.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	LogLevel       string   `mapstructure:"log_level"`
	PublicURL      string   `mapstructure:"public_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GatewayConfig configures the edge gateway and the upstream services it
// fronts.
type GatewayConfig struct {
	Port              int              `mapstructure:"port"`
	AuthURL           string           `mapstructure:"auth_url"`
	IntrospectTimeout time.Duration    `mapstructure:"introspect_timeout"`
	Upstreams         []UpstreamConfig `mapstructure:"upstreams"`
}

// UpstreamConfig names a service the gateway proxies to. Requests whose path
// starts with Prefix are forwarded to URL.
type UpstreamConfig struct {
	Name   string `mapstructure:"name"`
	Prefix string `mapstructure:"prefix"`
	URL    string `mapstructure:"url"`
}

// NotifyConfig configures the notification daemon and the client other
// services use to reach it.
type NotifyConfig struct {
	Port    int           `mapstructure:"port"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT          JWTSettings       `mapstructure:"jwt"`
	Local        LocalAuthSettings `mapstructure:"local"`
	Recovery     RecoverySettings  `mapstructure:"recovery"`
	ServiceToken string            `mapstructure:"service_token"`
}

// JWTSettings configures the dual-secret token pair. Access and refresh
// tokens are signed with independent secrets.
type JWTSettings struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// LocalAuthSettings defines failed-login lockout controls.
type LocalAuthSettings struct {
	LockoutThreshold int           `mapstructure:"lockout_threshold"`
	LockoutDuration  time.Duration `mapstructure:"lockout_duration"`
}

// RecoverySettings controls password recovery tokens.
type RecoverySettings struct {
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// InviteConfig controls invitation issuance.
type InviteConfig struct {
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// BootstrapConfig seeds the very first administrator invitation.
type BootstrapConfig struct {
	AdminEmail string `mapstructure:"admin_email"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MaintenanceConfig controls background retention jobs.
type MaintenanceConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	AuditRetentionDays    int           `mapstructure:"audit_retention_days"`
	DeliveryRetentionDays int           `mapstructure:"delivery_retention_days"`
	InviteGrace           time.Duration `mapstructure:"invite_grace"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("DATAPULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would weaken the token scheme. The
// two signing secrets must differ so an access token can never be replayed
// against the refresh path.
func (c *Config) Validate() error {
	access := strings.TrimSpace(c.Auth.JWT.AccessSecret)
	refresh := strings.TrimSpace(c.Auth.JWT.RefreshSecret)
	if access != "" && access == refresh {
		return errors.New("config: auth.jwt.access_secret and auth.jwt.refresh_secret must differ")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.auth_url", "http://127.0.0.1:8000")
	v.SetDefault("gateway.introspect_timeout", "5s")
	v.SetDefault("gateway.upstreams", []map[string]any{
		{"name": "storage", "prefix": "/api/storage", "url": "http://127.0.0.1:9101"},
		{"name": "insights", "prefix": "/api/insights", "url": "http://127.0.0.1:9102"},
	})

	v.SetDefault("notify.port", 8090)
	v.SetDefault("notify.base_url", "http://127.0.0.1:8090")
	v.SetDefault("notify.timeout", "5s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/datapult.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.issuer", "datapult")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.refresh_token_ttl", "720h") // 30 days
	v.SetDefault("auth.local.lockout_threshold", 5)
	v.SetDefault("auth.local.lockout_duration", "30m")
	v.SetDefault("auth.recovery.token_ttl", "1h")

	v.SetDefault("invites.default_ttl", "72h")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.delivery_retention_days", 90)
	v.SetDefault("maintenance.invite_grace", "168h") // 7 days

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
