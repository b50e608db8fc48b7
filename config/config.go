package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// BackendADFS is the OIDC login backend
	BackendADFS = "adfs"
	// BackendToken is the tenant API token backend
	BackendToken = "token"

	// AzureADServer is used instead of ADFS_SERVER when ADFS_TENANT_ID is set
	AzureADServer = "login.microsoftonline.com"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	ADFS          ProviderConfig
	TokenAuth     TokenAuthConfig
	Session       SessionConfig
	KeyCache      KeyCacheConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int `validate:"min=0"`
	MaxIdleConns     int `validate:"min=0"`
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the session store connection. An empty URL selects the
// in-memory store.
type RedisConfig struct {
	URL       string `validate:"omitempty,url"`
	KeyPrefix string
}

// AuthConfig selects the enabled backends
type AuthConfig struct {
	Backends     []string `validate:"min=1,dive,oneof=adfs token"`
	ExcludePaths []string

	// RequiredRoles restricts /api/v1 to identities holding one of these
	// groups or grants. Empty allows any authenticated identity.
	RequiredRoles []string
}

// ProviderConfig describes one OIDC identity provider. It is built once at
// startup and read-only afterwards.
type ProviderConfig struct {
	Server        string
	Tenant        string
	DiscoveryURL  string `validate:"omitempty,url"`
	AuthorizeURL  string `validate:"omitempty,url"`
	TokenURL      string `validate:"omitempty,url"`
	UserInfoURL   string `validate:"omitempty,url"`
	EndSessionURL string `validate:"omitempty,url"`
	Issuer        string
	ClientID      string
	ClientSecret  string
	Resource      string
	Audience      string
	Scopes        []string

	// ClaimMapping overrides logical claim names (user_id=upn,groups=group)
	ClaimMapping  map[string]string
	UsernameClaim string
	GroupClaim    string
	DefaultGroups []string

	LoginPath    string
	CallbackPath string
	LogoutPath   string
	// RedirectURI is an absolute callback URL. When empty it is derived from
	// the inbound request host and CallbackPath.
	RedirectURI     string `validate:"omitempty,url"`
	PostLoginURL    string
	AllowedRedirect []string
	StrictState     bool
}

// TokenAuthConfig configures the tenant API token backend
type TokenAuthConfig struct {
	Scheme        string
	Secret        string
	Algorithm     string `validate:"oneof=HS256 HS384 HS512"`
	Issuer        string
	VerifyIssuer  bool
	Leeway        time.Duration
	DefaultTenant string
	TTL           time.Duration
}

// SessionConfig configures the session tokens issued after an OIDC login
type SessionConfig struct {
	Secret    string
	Algorithm string `validate:"oneof=HS256 HS384 HS512"`
	Issuer    string
	TTL       time.Duration
}

// KeyCacheConfig configures signing key discovery
type KeyCacheConfig struct {
	HTTPTimeout        time.Duration
	MinRefreshInterval time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json console"`
	MetricsEnabled bool
	TracingEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "navigator:session:"),
		},
		Auth: AuthConfig{
			Backends:      getEnvAsSlice("AUTH_BACKENDS", []string{BackendToken}),
			ExcludePaths:  getEnvAsSlice("AUTH_EXCLUDE_PATHS", []string{"/healthz", "/readyz", "/metrics"}),
			RequiredRoles: getEnvAsSlice("AUTH_REQUIRED_ROLES", nil),
		},
		ADFS: loadProviderConfig(),
		TokenAuth: TokenAuthConfig{
			Scheme:        getEnv("AUTH_TOKEN_SCHEME", "Bearer"),
			Secret:        getEnv("AUTH_TOKEN_SECRET", ""),
			Algorithm:     getEnv("AUTH_JWT_ALGORITHM", "HS256"),
			Issuer:        getEnv("AUTH_TOKEN_ISSUER", "Navigator"),
			VerifyIssuer:  getEnvAsBool("AUTH_TOKEN_VERIFY_ISSUER", false),
			Leeway:        getEnvAsDuration("AUTH_TOKEN_LEEWAY", 30*time.Second),
			DefaultTenant: getEnv("AUTH_TOKEN_DEFAULT_TENANT", ""),
			TTL:           getEnvAsDuration("AUTH_TOKEN_TTL", 12*time.Hour),
		},
		Session: SessionConfig{
			Secret:    getEnv("SESSION_SECRET", ""),
			Algorithm: getEnv("SESSION_ALGORITHM", "HS256"),
			Issuer:    getEnv("SESSION_ISSUER", "navigator-auth"),
			TTL:       getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		},
		KeyCache: KeyCacheConfig{
			HTTPTimeout:        getEnvAsDuration("JWKS_HTTP_TIMEOUT", 5*time.Second),
			MinRefreshInterval: getEnvAsDuration("JWKS_MIN_REFRESH_INTERVAL", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", ""),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			TracingEnabled: getEnvAsBool("TRACING_ENABLED", false),
		},
	}

	// human readable logs locally, json everywhere else
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
		if cfg.IsDevelopment() {
			cfg.Observability.LogFormat = "console"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks struct constraints first, then the rules that depend on
// which backends are enabled.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s: failed on '%s' tag", verrs[0].Namespace(), verrs[0].Tag())
		}
		return err
	}

	if c.BackendEnabled(BackendToken) {
		if c.TokenAuth.Secret == "" {
			return fmt.Errorf("AUTH_TOKEN_SECRET is required for the token backend")
		}
		if c.TokenAuth.Scheme == "" {
			return fmt.Errorf("token scheme is required")
		}
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" && (c.Database.User == "" || c.Database.Database == "") {
			return fmt.Errorf("database user and name are required")
		}
	}

	if c.BackendEnabled(BackendADFS) {
		if c.ADFS.Server == "" {
			return fmt.Errorf("ADFS_SERVER or ADFS_TENANT_ID is required for the adfs backend")
		}
		if c.ADFS.ClientID == "" {
			return fmt.Errorf("ADFS_CLIENT_ID is required for the adfs backend")
		}
		if c.ADFS.Audience == "" {
			return fmt.Errorf("ADFS_AUDIENCE or ADFS_DEFAULT_RESOURCE is required for the adfs backend")
		}
		if c.Session.Secret == "" {
			return fmt.Errorf("SESSION_SECRET is required for the adfs backend")
		}
	}

	return nil
}

// BackendEnabled reports whether name is listed in AUTH_BACKENDS
func (c *Config) BackendEnabled(name string) bool {
	return slices.Contains(c.Auth.Backends, name)
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ClaimOverrides returns the logical → provider claim names that replace the
// default ADFS mapping.
func (p *ProviderConfig) ClaimOverrides() map[string]string {
	out := make(map[string]string, len(p.ClaimMapping)+2)
	if p.UsernameClaim != "" {
		out["user_id"] = p.UsernameClaim
	}
	if p.GroupClaim != "" {
		out["groups"] = p.GroupClaim
	}
	for k, v := range p.ClaimMapping {
		out[k] = v
	}
	return out
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "navigator"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "navigator"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadProviderConfig derives the ADFS endpoints. With ADFS_TENANT_ID the
// Azure AD host is used; otherwise the on-prem server with the "adfs" tenant.
// Every derived URL can be overridden individually.
func loadProviderConfig() ProviderConfig {
	server := getEnv("ADFS_SERVER", "")
	tenant := "adfs"
	usernameClaim := getEnv("USERNAME_CLAIM", "")
	groupClaim := getEnv("GROUP_CLAIM", "")
	discovery := ""

	if tenantID := getEnv("ADFS_TENANT_ID", ""); tenantID != "" {
		server = AzureADServer
		tenant = tenantID
		usernameClaim = "upn"
		groupClaim = "groups"
		discovery = fmt.Sprintf("https://%s/%s/.well-known/openid-configuration", AzureADServer, tenantID)
	} else if server != "" {
		discovery = fmt.Sprintf("https://%s/adfs/.well-known/openid-configuration", server)
	}

	base := ""
	if server != "" {
		base = fmt.Sprintf("https://%s/%s", server, tenant)
	}
	derive := func(suffix string) string {
		if base == "" {
			return ""
		}
		return base + suffix
	}

	resource := getEnv("ADFS_DEFAULT_RESOURCE", getEnv("ADFS_RESOURCE", ""))

	return ProviderConfig{
		Server:        server,
		Tenant:        tenant,
		DiscoveryURL:  getEnv("ADFS_DISCOVERY_URL", discovery),
		AuthorizeURL:  getEnv("ADFS_AUTHORIZE_URL", derive("/oauth2/authorize/")),
		TokenURL:      getEnv("ADFS_TOKEN_URL", derive("/oauth2/token")),
		UserInfoURL:   getEnv("ADFS_USERINFO_URL", derive("/userinfo")),
		EndSessionURL: getEnv("ADFS_END_SESSION_URL", derive("/ls/?wa=wsignout1.0")),
		Issuer:        getEnv("ADFS_ISSUER", derive("/services/trust")),
		ClientID:      getEnv("ADFS_CLIENT_ID", ""),
		ClientSecret:  getEnv("ADFS_CLIENT_SECRET", ""),
		Resource:      resource,
		Audience:      getEnv("ADFS_AUDIENCE", resource),
		Scopes:        strings.Fields(getEnv("ADFS_SCOPES", "openid")),

		ClaimMapping:  getEnvAsMap("ADFS_CLAIM_MAPPING"),
		UsernameClaim: usernameClaim,
		GroupClaim:    groupClaim,
		DefaultGroups: getEnvAsSlice("ADFS_DEFAULT_GROUPS", []string{"users"}),

		LoginPath:       getEnv("ADFS_LOGIN_PATH", "/auth/adfs"),
		CallbackPath:    getEnv("ADFS_CALLBACK_PATH", "/auth/adfs/callback"),
		LogoutPath:      getEnv("ADFS_LOGOUT_PATH", "/auth/adfs/logout"),
		RedirectURI:     getEnv("ADFS_REDIRECT_URI", ""),
		PostLoginURL:    getEnv("ADFS_POST_LOGIN_URL", "/"),
		AllowedRedirect: getEnvAsSlice("ADFS_ALLOWED_REDIRECT_HOSTS", nil),
		StrictState:     getEnvAsBool("ADFS_STRICT_STATE", false),
	}
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return getEnvAsInt("SERVER_PORT", 8080)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated value, dropping blanks
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvAsMap parses "k1=v1,k2=v2"
func getEnvAsMap(key string) map[string]string {
	out := make(map[string]string)
	for _, pair := range getEnvAsSlice(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}
