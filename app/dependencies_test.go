package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/upb/navigator-auth/config"
	"github.com/upb/navigator-auth/repositories/memory"
)

func adfsConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			Backends:     []string{config.BackendADFS},
			ExcludePaths: []string{"/healthz"},
		},
		ADFS: config.ProviderConfig{
			Server:        "fs.example.com",
			Tenant:        "adfs",
			DiscoveryURL:  "https://fs.example.com/adfs/.well-known/openid-configuration",
			AuthorizeURL:  "https://fs.example.com/adfs/oauth2/authorize/",
			TokenURL:      "https://fs.example.com/adfs/oauth2/token",
			Issuer:        "https://fs.example.com/adfs/services/trust",
			ClientID:      "client-1",
			Audience:      "urn:navigator",
			LoginPath:     "/auth/adfs",
			CallbackPath:  "/auth/adfs/callback",
			LogoutPath:    "/auth/adfs/logout",
			DefaultGroups: []string{"users"},
		},
		Session: config.SessionConfig{
			Secret:    "session-secret",
			Algorithm: "HS256",
			Issuer:    "navigator-auth",
			TTL:       time.Hour,
		},
		KeyCache: config.KeyCacheConfig{
			HTTPTimeout:        time.Second,
			MinRefreshInterval: time.Minute,
		},
	}
}

func TestNewDependencies(t *testing.T) {
	ctx := context.Background()

	t.Run("adfs backend with in-memory sessions", func(t *testing.T) {
		deps, err := NewDependencies(ctx, adfsConfig(), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.IsType(t, &memory.SessionRepository{}, deps.Sessions)
		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.DB)
		assert.NotNil(t, deps.SessionService)
		assert.NotNil(t, deps.Keys)
		assert.NotNil(t, deps.Interceptor)
		require.Len(t, deps.Backends, 1)
		assert.Equal(t, config.BackendADFS, deps.Backends[0].Name())
	})

	t.Run("adfs backend with redis sessions", func(t *testing.T) {
		mini := miniredis.RunT(t)
		cfg := adfsConfig()
		cfg.Redis = config.RedisConfig{URL: "redis://" + mini.Addr(), KeyPrefix: "test:"}

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		require.NoError(t, err)

		require.NotNil(t, deps.Redis)
		assert.NoError(t, deps.Sessions.Ping(ctx))
		assert.NoError(t, deps.Close(ctx))
		assert.Nil(t, deps.Redis)
	})

	t.Run("unreachable redis", func(t *testing.T) {
		mini := miniredis.RunT(t)
		addr := mini.Addr()
		mini.Close()
		cfg := adfsConfig()
		cfg.Redis.URL = "redis://" + addr

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})

	t.Run("token backend fails without database", func(t *testing.T) {
		cfg := &config.Config{
			Auth: config.AuthConfig{Backends: []string{config.BackendToken}},
			Database: config.DatabaseConfig{
				ConnectionString: "postgres://navigator:pw@127.0.0.1:1/auth?sslmode=disable&connect_timeout=1",
			},
			TokenAuth: config.TokenAuthConfig{
				Scheme:    "Bearer",
				Secret:    "secret",
				Algorithm: "HS256",
			},
		}

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := adfsConfig()
		cfg.Auth.Backends = []string{"ldap"}

		_, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
		assert.ErrorContains(t, err, "unknown auth backend")
	})
}

func TestDependencies_StartAndClose(t *testing.T) {
	ctx := context.Background()
	// discovery is unreachable; key warm-up only warns
	cfg := adfsConfig()
	cfg.ADFS.DiscoveryURL = "http://127.0.0.1:1/.well-known/openid-configuration"

	deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.NoError(t, deps.Start(ctx))
	assert.NoError(t, deps.Close(ctx))
}
