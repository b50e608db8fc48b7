package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/claims"
	"github.com/upb/navigator-auth/config"
	"github.com/upb/navigator-auth/jwks"
	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/observability"
	"github.com/upb/navigator-auth/tokens"
	"github.com/upb/navigator-auth/utils"
)

const (
	stateCookieName = "navigator_auth_state"
	tokenLeeway     = 30 * time.Second
)

// CodeExchanger talks to the provider's authorize and token endpoints
type CodeExchanger interface {
	AuthCodeURL(state, redirectURI string) string
	ExchangeCode(ctx context.Context, code, redirectURI string) (*models.TokenExchangeResult, error)
}

// KeyResolver supplies provider signing keys
type KeyResolver interface {
	Resolve(ctx context.Context, issuer, discoveryURL string) (*jwks.SigningKeySet, error)
	KeyFor(ctx context.Context, kid, issuer, discoveryURL string) (any, error)
	Purge()
}

// UserInfoFetcher returns userinfo claims for an access token
type UserInfoFetcher interface {
	Fetch(ctx context.Context, accessToken string) (map[string]any, error)
}

// SessionEstablisher persists an identity and returns a bearer token for it
type SessionEstablisher interface {
	Establish(ctx context.Context, identity *models.Identity) (string, error)
}

// OIDCDeps are the collaborators of an OIDCController. UserInfo and Metrics
// may be nil.
type OIDCDeps struct {
	Exchanger CodeExchanger
	Keys      KeyResolver
	Validator *tokens.Validator
	UserInfo  UserInfoFetcher
	Sessions  SessionEstablisher
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// LoginResult is a completed login
type LoginResult struct {
	Identity       *models.Identity
	SessionToken   string
	RedirectTarget string
}

// OIDCController drives the authorization code flow against one provider
type OIDCController struct {
	cfg       config.ProviderConfig
	mapping   claims.Mapping
	exchanger CodeExchanger
	keys      KeyResolver
	validator *tokens.Validator
	userinfo  UserInfoFetcher
	sessions  SessionEstablisher
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewOIDCController creates the adfs backend
func NewOIDCController(cfg config.ProviderConfig, deps OIDCDeps) *OIDCController {
	validator := deps.Validator
	if validator == nil {
		validator = tokens.NewValidator()
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCController{
		cfg:       cfg,
		mapping:   claims.DefaultADFSMapping().With(cfg.ClaimOverrides()),
		exchanger: deps.Exchanger,
		keys:      deps.Keys,
		validator: validator,
		userinfo:  deps.UserInfo,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		logger:    logger,
	}
}

// Name implements Backend
func (c *OIDCController) Name() string {
	return config.BackendADFS
}

// Configure registers the login, callback and logout routes
func (c *OIDCController) Configure(r chi.Router) {
	r.Get(c.cfg.LoginPath, c.HandleLogin)
	r.HandleFunc(c.cfg.CallbackPath, c.HandleCallback)
	r.Get(c.cfg.LogoutPath, c.HandleLogout)
}

// OnStartup warms the key cache. Failure is logged; keys are fetched again
// on the first login.
func (c *OIDCController) OnStartup(ctx context.Context) error {
	if c.cfg.DiscoveryURL == "" {
		return nil
	}
	if _, err := c.keys.Resolve(ctx, c.cfg.Issuer, c.cfg.DiscoveryURL); err != nil {
		c.logger.Warn("signing key prefetch failed",
			zap.String("issuer", c.cfg.Issuer),
			zap.Error(err))
	}
	return nil
}

// OnCleanup drops cached keys
func (c *OIDCController) OnCleanup(context.Context) error {
	c.keys.Purge()
	return nil
}

// Paths returns the routes that must bypass the request interceptor
func (c *OIDCController) Paths() []string {
	return []string{c.cfg.LoginPath, c.cfg.CallbackPath, c.cfg.LogoutPath}
}

// AuthorizeURL builds the provider redirect for a login that should end at
// target
func (c *OIDCController) AuthorizeURL(redirectURI string, state models.AuthorizationState) string {
	return c.exchanger.AuthCodeURL(state.Encode(), redirectURI)
}

// HandleLogin redirects the user agent to the provider (INIT → REDIRECTED)
func (c *OIDCController) HandleLogin(w http.ResponseWriter, r *http.Request) {
	state := models.AuthorizationState{RedirectTarget: c.safeTarget(r.URL.Query().Get("redirect"))}

	if c.cfg.StrictState {
		state.Nonce = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookieName,
			Value:    state.Nonce,
			Path:     c.cfg.CallbackPath,
			MaxAge:   int((10 * time.Minute).Seconds()),
			HttpOnly: true,
			Secure:   isSecure(r),
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, c.AuthorizeURL(c.RedirectURI(r), state), http.StatusFound)
}

// Callback runs the flow from the provider's callback parameters to an
// established session. expectedNonce is only checked when strict state
// binding is enabled.
func (c *OIDCController) Callback(ctx context.Context, params url.Values, redirectURI, expectedNonce string) (*LoginResult, error) {
	// REDIRECTED → CALLBACK_RECEIVED
	if providerErr := params.Get("error"); providerErr != "" {
		return nil, fail(StateRedirected, authn.New(authn.KindProviderDenied,
			"identity provider denied authentication",
			errors.New(providerErr+": "+params.Get("error_description"))))
	}
	code := params.Get("code")
	if code == "" {
		return nil, fail(StateRedirected, authn.New(authn.KindInvalidCallback,
			"authorization code missing", nil))
	}

	target := c.cfg.PostLoginURL
	if raw := params.Get("state"); raw != "" {
		state, err := models.DecodeAuthorizationState(raw)
		if err != nil {
			return nil, fail(StateRedirected, authn.Wrap(authn.KindInvalidCallback, err))
		}
		if c.cfg.StrictState && (expectedNonce == "" || state.Nonce != expectedNonce) {
			return nil, fail(StateRedirected, authn.New(authn.KindInvalidCallback,
				"login state mismatch", nil))
		}
		target = c.safeTarget(state.RedirectTarget)
	} else if c.cfg.StrictState {
		return nil, fail(StateRedirected, authn.New(authn.KindInvalidCallback, "login state missing", nil))
	}

	// CALLBACK_RECEIVED → CODE_EXCHANGED
	exchanged, err := c.exchanger.ExchangeCode(ctx, code, redirectURI)
	if err != nil {
		return nil, fail(StateCallbackReceived, err)
	}
	if exchanged.AccessToken == "" {
		return nil, fail(StateCallbackReceived, authn.New(authn.KindTokenExchangeRejected,
			"token exchange rejected by provider", errors.New("no access token")))
	}

	// CODE_EXCHANGED → CLAIMS_VERIFIED
	tokenClaims, err := c.verify(ctx, exchanged.AccessToken)
	if err != nil {
		return nil, fail(StateCodeExchanged, err)
	}

	// CLAIMS_VERIFIED → IDENTITY_BUILT
	raw := tokenClaims
	if c.userinfo != nil {
		info, err := c.userinfo.Fetch(ctx, exchanged.AccessToken)
		if err != nil {
			c.logger.Warn("userinfo enrichment failed", zap.Error(err))
		} else {
			raw = claims.Merge(tokenClaims, info)
		}
	}
	verified, err := claims.Map(raw, c.mapping)
	if err != nil {
		return nil, fail(StateClaimsVerified, err)
	}
	identity := claims.ToIdentity(verified, claims.IdentityOptions{
		Issuer:        c.cfg.Issuer,
		Backend:       config.BackendADFS,
		DefaultGroups: c.cfg.DefaultGroups,
		AccessToken:   exchanged.AccessToken,
	})

	// IDENTITY_BUILT → SESSION_ESTABLISHED
	if err := ctx.Err(); err != nil {
		return nil, fail(StateIdentityBuilt, authn.Wrap(authn.KindUpstreamUnavailable, err))
	}
	sessionToken, err := c.sessions.Establish(ctx, identity)
	if err != nil {
		if authn.KindOf(err) != authn.KindSessionCreationFailed {
			err = authn.Wrap(authn.KindSessionCreationFailed, err)
		}
		return nil, fail(StateIdentityBuilt, err)
	}

	return &LoginResult{
		Identity:       identity,
		SessionToken:   sessionToken,
		RedirectTarget: target,
	}, nil
}

func (c *OIDCController) verify(ctx context.Context, accessToken string) (map[string]any, error) {
	kid, err := tokens.KeyID(accessToken)
	if err != nil {
		return nil, err
	}
	key, err := c.keys.KeyFor(ctx, kid, c.cfg.Issuer, c.cfg.DiscoveryURL)
	if err != nil {
		return nil, err
	}
	return c.validator.Verify(accessToken, key, tokens.VerifyOptions{
		Issuer:     c.cfg.Issuer,
		Audience:   c.cfg.Audience,
		Algorithms: tokens.RSAAlgorithms,
		Leeway:     tokenLeeway,
	})
}

// HandleCallback completes the login and redirects to the original target
// with the session token, or rejects with 403
func (c *OIDCController) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		c.reject(w, r, fail(StateRedirected, authn.Wrap(authn.KindInvalidCallback, err)))
		return
	}

	var nonce string
	if c.cfg.StrictState {
		if cookie, err := r.Cookie(stateCookieName); err == nil {
			nonce = cookie.Value
		}
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookieName,
			Path:     c.cfg.CallbackPath,
			MaxAge:   -1,
			HttpOnly: true,
		})
	}

	result, err := c.Callback(r.Context(), r.Form, c.RedirectURI(r), nonce)
	if err != nil {
		c.reject(w, r, err)
		return
	}

	c.metrics.ObserveLogin(c.Name(), observability.OutcomeSuccess)
	c.logger.Info("login completed",
		zap.String("user_id", result.Identity.UserID),
		zap.String("session_id", result.Identity.SessionKey))

	http.Redirect(w, r, withToken(result.RedirectTarget, result.SessionToken), http.StatusFound)
}

func (c *OIDCController) reject(w http.ResponseWriter, r *http.Request, err error) {
	kind := authn.KindOf(err)
	reached := StateInit
	var flowErr *FlowError
	if errors.As(err, &flowErr) {
		reached = flowErr.Reached
	}
	c.metrics.ObserveLogin(c.Name(), string(kind))
	c.logger.Warn("login failed",
		zap.String("kind", string(kind)),
		zap.String("reached", string(reached)),
		zap.String("path", r.URL.Path),
		zap.Error(err))
	_ = utils.WriteAuthErrorWithStatus(w, http.StatusForbidden, err)
}

// LogoutURL returns the provider end-session URL
func (c *OIDCController) LogoutURL() string {
	if c.cfg.EndSessionURL != "" {
		return c.cfg.EndSessionURL
	}
	return "https://" + c.cfg.Server + "/" + c.cfg.Tenant + "/ls/?wa=wsignout1.0"
}

// HandleLogout redirects to the provider end-session endpoint. Local session
// state is left to the session store's expiry.
func (c *OIDCController) HandleLogout(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, c.LogoutURL(), http.StatusFound)
}

// RedirectURI returns the configured callback URL, or derives it from the
// inbound request's scheme and host
func (c *OIDCController) RedirectURI(r *http.Request) string {
	if c.cfg.RedirectURI != "" {
		return c.cfg.RedirectURI
	}
	scheme := "http"
	if isSecure(r) {
		scheme = "https"
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host + c.cfg.CallbackPath
}

// safeTarget accepts local paths and absolute URLs on an allowed host;
// anything else falls back to the post-login URL
func (c *OIDCController) safeTarget(target string) string {
	if target == "" {
		return c.cfg.PostLoginURL
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}
	u, err := url.Parse(target)
	if err == nil && (u.Scheme == "https" || u.Scheme == "http") && slices.Contains(c.cfg.AllowedRedirect, u.Hostname()) {
		return target
	}
	c.logger.Warn("redirect target rejected", zap.String("target", target))
	return c.cfg.PostLoginURL
}

func isSecure(r *http.Request) bool {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.EqualFold(strings.TrimSpace(strings.Split(proto, ",")[0]), "https")
	}
	return r.TLS != nil
}

func withToken(target, token string) string {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("token_type", "Bearer")
	u.RawQuery = q.Encode()
	return u.String()
}
