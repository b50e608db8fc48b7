// Package jwks resolves identity provider signing keys through OIDC discovery
// and keeps a per-issuer cache of the published key sets.
package jwks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/upb/navigator-auth/authn"
)

const maxDocumentSize = 1 << 20

// SigningKey is a single verification key taken from a JWKS document
type SigningKey struct {
	KeyID     string
	Algorithm string
	Key       any
}

// SigningKeySet is an immutable snapshot of an issuer's published keys.
// Refreshes build a new set and swap it in; a set is never modified after
// construction.
type SigningKeySet struct {
	Issuer    string
	Keys      map[string]SigningKey
	FetchedAt time.Time
}

// Lookup returns the key for kid
func (s *SigningKeySet) Lookup(kid string) (SigningKey, bool) {
	k, ok := s.Keys[kid]
	return k, ok
}

// Recorder observes key set fetches
type Recorder interface {
	KeySetFetched(issuer string, forced bool, err error)
}

// Config holds configuration for Resolver
type Config struct {
	HTTPClient *http.Client
	// Timeout bounds one discovery + JWKS round trip
	Timeout time.Duration
	// MinRefreshInterval is the minimum time between forced refreshes of
	// the same issuer
	MinRefreshInterval time.Duration
	Logger             *zap.Logger
	Recorder           Recorder
}

// Resolver fetches and caches signing key sets keyed by issuer
type Resolver struct {
	httpClient         *http.Client
	timeout            time.Duration
	minRefreshInterval time.Duration
	logger             *zap.Logger
	recorder           Recorder

	mu         sync.RWMutex
	sets       map[string]*SigningKeySet
	lastForced map[string]time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewResolver creates a new resolver
func NewResolver(cfg Config) *Resolver {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinRefreshInterval == 0 {
		cfg.MinRefreshInterval = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Resolver{
		httpClient:         cfg.HTTPClient,
		timeout:            cfg.Timeout,
		minRefreshInterval: cfg.MinRefreshInterval,
		logger:             cfg.Logger,
		recorder:           cfg.Recorder,
		sets:               make(map[string]*SigningKeySet),
		lastForced:         make(map[string]time.Time),
		now:                time.Now,
	}
}

// Resolve returns the cached key set for issuer, fetching it through the
// discovery document on first use.
func (r *Resolver) Resolve(ctx context.Context, issuer, discoveryURL string) (*SigningKeySet, error) {
	if set := r.cached(issuer); set != nil {
		return set, nil
	}
	return r.load(ctx, issuer, discoveryURL, false)
}

// KeyFor returns the key identified by kid. A kid missing from the cached
// set causes one forced refresh; if the kid is still unknown afterwards the
// call fails without refreshing again.
func (r *Resolver) KeyFor(ctx context.Context, kid, issuer, discoveryURL string) (any, error) {
	set, err := r.Resolve(ctx, issuer, discoveryURL)
	if err != nil {
		return nil, err
	}
	if k, ok := set.Lookup(kid); ok {
		return k.Key, nil
	}

	set, err = r.Refresh(ctx, issuer, discoveryURL)
	if err != nil {
		return nil, err
	}
	if k, ok := set.Lookup(kid); ok {
		return k.Key, nil
	}
	return nil, authn.New(authn.KindKeyDiscovery, "unknown signing key",
		fmt.Errorf("kid %q not published by %s", kid, issuer))
}

// Refresh forces a new fetch for issuer. Concurrent callers share one fetch,
// and forced refreshes closer together than the minimum refresh interval
// return the current set instead.
func (r *Resolver) Refresh(ctx context.Context, issuer, discoveryURL string) (*SigningKeySet, error) {
	return r.load(ctx, issuer, discoveryURL, true)
}

// Purge drops every cached set
func (r *Resolver) Purge() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets = make(map[string]*SigningKeySet)
	r.lastForced = make(map[string]time.Time)
}

func (r *Resolver) cached(issuer string) *SigningKeySet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[issuer]
}

// load coalesces concurrent fetches for the same issuer. The fetch runs on a
// context detached from any single caller so one cancelled request does not
// fail the others waiting on it.
func (r *Resolver) load(ctx context.Context, issuer, discoveryURL string, forced bool) (*SigningKeySet, error) {
	key := issuer
	if forced {
		key = "forced:" + issuer
	}
	ch := r.group.DoChan(key, func() (any, error) {
		if !forced {
			if set := r.cached(issuer); set != nil {
				return set, nil
			}
		} else if set, ok := r.claimForcedRefresh(issuer); !ok {
			r.logger.Debug("Forced key refresh suppressed", zap.String("issuer", issuer))
			return set, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		set, err := r.fetch(fetchCtx, issuer, discoveryURL)
		if r.recorder != nil {
			r.recorder.KeySetFetched(issuer, forced, err)
		}
		if err != nil {
			r.logger.Warn("Signing key fetch failed",
				zap.String("issuer", issuer),
				zap.Bool("forced", forced),
				zap.Error(err))
			return nil, err
		}

		r.mu.Lock()
		r.sets[issuer] = set
		r.mu.Unlock()

		r.logger.Info("Signing keys loaded",
			zap.String("issuer", issuer),
			zap.Int("keys", len(set.Keys)),
			zap.Bool("forced", forced))
		return set, nil
	})

	select {
	case <-ctx.Done():
		return nil, authn.Wrap(authn.KindKeyDiscovery, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SigningKeySet), nil
	}
}

// claimForcedRefresh records a forced refresh for issuer. It returns false
// with the current set when the previous one is too recent.
func (r *Resolver) claimForcedRefresh(issuer string) (*SigningKeySet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.sets[issuer]
	last, seen := r.lastForced[issuer]
	if current != nil && seen && r.now().Sub(last) < r.minRefreshInterval {
		return current, false
	}
	r.lastForced[issuer] = r.now()
	return nil, true
}

type discoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

func (r *Resolver) fetch(ctx context.Context, issuer, discoveryURL string) (*SigningKeySet, error) {
	body, err := r.get(ctx, discoveryURL)
	if err != nil {
		return nil, authn.New(authn.KindKeyDiscovery, "discovery document unavailable", err)
	}
	var doc discoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, authn.New(authn.KindKeyDiscovery, "discovery document malformed", err)
	}
	if doc.JWKSURI == "" {
		return nil, authn.New(authn.KindKeyDiscovery, "discovery document malformed",
			errors.New("jwks_uri missing"))
	}

	body, err = r.get(ctx, doc.JWKSURI)
	if err != nil {
		return nil, authn.New(authn.KindKeyDiscovery, "key set unavailable", err)
	}
	parsed, err := jwk.Parse(body)
	if err != nil {
		return nil, authn.New(authn.KindKeyDiscovery, "key set malformed", err)
	}

	set := &SigningKeySet{
		Issuer:    issuer,
		Keys:      make(map[string]SigningKey, parsed.Len()),
		FetchedAt: r.now(),
	}
	for i := 0; i < parsed.Len(); i++ {
		k, ok := parsed.Key(i)
		if !ok || k.KeyID() == "" {
			continue
		}
		var raw any
		if err := k.Raw(&raw); err != nil {
			r.logger.Warn("Skipping unusable signing key",
				zap.String("issuer", issuer),
				zap.String("kid", k.KeyID()),
				zap.Error(err))
			continue
		}
		set.Keys[k.KeyID()] = SigningKey{
			KeyID:     k.KeyID(),
			Algorithm: k.Algorithm().String(),
			Key:       raw,
		}
	}
	if len(set.Keys) == 0 {
		return nil, authn.New(authn.KindKeyDiscovery, "key set malformed", errors.New("no usable keys"))
	}
	return set, nil
}

func (r *Resolver) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status code %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
}
