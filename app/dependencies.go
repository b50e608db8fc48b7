package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/auth"
	"github.com/upb/navigator-auth/config"
	"github.com/upb/navigator-auth/jwks"
	"github.com/upb/navigator-auth/middleware"
	"github.com/upb/navigator-auth/observability"
	"github.com/upb/navigator-auth/repositories"
	"github.com/upb/navigator-auth/repositories/memory"
	"github.com/upb/navigator-auth/repositories/postgres"
	"github.com/upb/navigator-auth/repositories/redis"
	"github.com/upb/navigator-auth/services"
	"github.com/upb/navigator-auth/tokens"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config     *config.Config
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	HTTPClient *http.Client
	DB         *postgres.DB
	Redis      *goredis.Client

	// Repositories
	APIKeys  repositories.APIKeyRepository
	Sessions repositories.SessionStore

	// Auth
	Keys           *jwks.Resolver
	SessionService *services.SessionService
	Backends       []auth.Backend
	Interceptor    *middleware.Interceptor
}

// NewDependencies creates and wires up all application dependencies.
// Only the stores the enabled backends need are opened.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:     cfg,
		Logger:     logger,
		Metrics:    observability.NewMetrics(),
		HTTPClient: observability.NewHTTPClient(cfg.KeyCache.HTTPTimeout),
	}

	if cfg.BackendEnabled(config.BackendToken) {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			deps.closeStores()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if cfg.BackendEnabled(config.BackendADFS) {
		if err := deps.initSessions(ctx, cfg); err != nil {
			deps.closeStores()
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
	}

	if err := deps.initAuth(cfg); err != nil {
		deps.closeStores()
		return nil, fmt.Errorf("failed to initialize auth backends: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.Strings("backends", cfg.Auth.Backends))
	return deps, nil
}

// initDatabase opens the partner key database
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	db, err := postgres.NewDB(ctx, cfg.Database, d.Logger)
	if err != nil {
		return err
	}
	d.DB = db
	d.APIKeys = postgres.NewAPIKeyRepository(db, d.Logger)
	return nil
}

// initSessions selects Redis when REDIS_URL is set and the in-process store
// otherwise
func (d *Dependencies) initSessions(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		d.Logger.Warn("REDIS_URL not set, sessions are kept in memory")
		d.Sessions = memory.NewSessionRepository()
	} else {
		client, err := redis.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		d.Redis = client
		d.Sessions = redis.NewSessionRepository(client, cfg.Redis.KeyPrefix, d.Logger)
		d.Logger.Info("session store connected", zap.String("store", "redis"))
	}

	issuer, err := tokens.NewIssuer(cfg.Session.Secret, cfg.Session.Algorithm, cfg.Session.Issuer, cfg.Session.TTL)
	if err != nil {
		return err
	}
	d.SessionService = services.NewSessionService(d.Sessions, issuer, cfg.Session.TTL, d.Logger)
	return nil
}

// initAuth builds the enabled backends in AUTH_BACKENDS order and the
// interceptor that fronts every route. Session tokens are tried before
// tenant tokens.
func (d *Dependencies) initAuth(cfg *config.Config) error {
	var authenticators []middleware.Authenticator
	exclude := append([]string(nil), cfg.Auth.ExcludePaths...)

	if d.SessionService != nil {
		authenticators = append(authenticators, auth.NewSessionAuthenticator("Bearer", d.SessionService))
	}

	for _, name := range cfg.Auth.Backends {
		switch name {
		case config.BackendADFS:
			controller := d.newOIDCController(cfg)
			d.Backends = append(d.Backends, controller)
			exclude = append(exclude, controller.Paths()...)
		case config.BackendToken:
			issuer, err := tokens.NewIssuer(cfg.TokenAuth.Secret, cfg.TokenAuth.Algorithm, cfg.TokenAuth.Issuer, cfg.TokenAuth.TTL)
			if err != nil {
				return err
			}
			tenant := auth.NewTenantTokenAuthenticator(cfg.TokenAuth, d.APIKeys, issuer, d.Logger)
			d.Backends = append(d.Backends, tenant)
			authenticators = append(authenticators, tenant)
			exclude = append(exclude, auth.TokenLoginPath)
		default:
			return fmt.Errorf("unknown auth backend %q", name)
		}
	}

	d.Interceptor = middleware.NewInterceptor(authenticators, exclude, d.Metrics, d.Logger)
	return nil
}

func (d *Dependencies) newOIDCController(cfg *config.Config) *auth.OIDCController {
	d.Keys = jwks.NewResolver(jwks.Config{
		HTTPClient:         d.HTTPClient,
		Timeout:            cfg.KeyCache.HTTPTimeout,
		MinRefreshInterval: cfg.KeyCache.MinRefreshInterval,
		Logger:             d.Logger,
		Recorder:           d.Metrics,
	})

	oidcDeps := auth.OIDCDeps{
		Exchanger: services.NewTokenExchanger(cfg.ADFS, d.HTTPClient, cfg.KeyCache.HTTPTimeout),
		Keys:      d.Keys,
		Validator: tokens.NewValidator(),
		Sessions:  d.SessionService,
		Metrics:   d.Metrics,
		Logger:    d.Logger,
	}
	// a typed nil would defeat the controller's nil check
	if userinfo := services.NewUserInfoClient(cfg.ADFS, d.HTTPClient, cfg.KeyCache.HTTPTimeout, d.Logger); userinfo != nil {
		oidcDeps.UserInfo = userinfo
	}
	return auth.NewOIDCController(cfg.ADFS, oidcDeps)
}

// Start runs each backend's startup hook. Failures are returned in order;
// backends that only warn (such as key warm-up) never fail startup.
func (d *Dependencies) Start(ctx context.Context) error {
	for _, b := range d.Backends {
		if err := b.OnStartup(ctx); err != nil {
			return fmt.Errorf("backend %s startup: %w", b.Name(), err)
		}
		d.Logger.Info("auth backend started", zap.String("backend", b.Name()))
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error
	for _, b := range d.Backends {
		if err := b.OnCleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backend %s cleanup: %w", b.Name(), err))
		}
	}
	errs = append(errs, d.closeStores()...)

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeStores() []error {
	var errs []error
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.DB = nil
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}
	return errs
}
