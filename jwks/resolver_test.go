package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
)

const testIssuer = "https://adfs.example.com/adfs/services/trust"

// fakeProvider serves a discovery document and a JWKS whose keys can be
// rotated during a test.
type fakeProvider struct {
	server         *httptest.Server
	discoveryHits  atomic.Int32
	jwksHits       atomic.Int32
	mu             sync.Mutex
	keys           []json.RawMessage
	discoveryDelay time.Duration
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		p.discoveryHits.Add(1)
		if p.discoveryDelay > 0 {
			time.Sleep(p.discoveryDelay)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   testIssuer,
			"jwks_uri": p.server.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		p.mu.Lock()
		defer p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": p.keys})
	})
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakeProvider) discoveryURL() string {
	return p.server.URL + "/.well-known/openid-configuration"
}

func (p *fakeProvider) publish(t *testing.T, kids ...string) map[string]*rsa.PrivateKey {
	privs := make(map[string]*rsa.PrivateKey, len(kids))
	keys := make([]json.RawMessage, 0, len(kids))
	for _, kid := range kids {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		k, err := jwk.FromRaw(&priv.PublicKey)
		require.NoError(t, err)
		require.NoError(t, k.Set(jwk.KeyIDKey, kid))
		require.NoError(t, k.Set(jwk.AlgorithmKey, jwa.RS256))
		b, err := json.Marshal(k)
		require.NoError(t, err)
		keys = append(keys, b)
		privs[kid] = priv
	}
	p.mu.Lock()
	p.keys = keys
	p.mu.Unlock()
	return privs
}

func newTestResolver(client *http.Client) *Resolver {
	return NewResolver(Config{
		HTTPClient:         client,
		Timeout:            2 * time.Second,
		MinRefreshInterval: time.Minute,
		Logger:             zap.NewNop(),
	})
}

func TestResolve_CachesPerIssuer(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	r := newTestResolver(p.server.Client())
	ctx := context.Background()

	first, err := r.Resolve(ctx, testIssuer, p.discoveryURL())
	require.NoError(t, err)
	second, err := r.Resolve(ctx, testIssuer, p.discoveryURL())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, testIssuer, first.Issuer)
	assert.Equal(t, int32(1), p.discoveryHits.Load())
	assert.Equal(t, int32(1), p.jwksHits.Load())

	key, ok := first.Lookup("kid-1")
	require.True(t, ok)
	assert.Equal(t, "RS256", key.Algorithm)
	assert.IsType(t, &rsa.PublicKey{}, key.Key)
}

func TestResolve_NeverServesAnotherIssuersSet(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	r := newTestResolver(p.server.Client())
	ctx := context.Background()

	a, err := r.Resolve(ctx, "issuer-a", p.discoveryURL())
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "issuer-b", p.discoveryURL())
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, "issuer-a", a.Issuer)
	assert.Equal(t, "issuer-b", b.Issuer)
	assert.Equal(t, int32(2), p.discoveryHits.Load())
}

func TestKeyFor_RefreshesOnceForRotatedKey(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	r := newTestResolver(p.server.Client())
	ctx := context.Background()

	_, err := r.KeyFor(ctx, "kid-1", testIssuer, p.discoveryURL())
	require.NoError(t, err)

	p.publish(t, "kid-2")

	key, err := r.KeyFor(ctx, "kid-2", testIssuer, p.discoveryURL())
	require.NoError(t, err)
	assert.NotNil(t, key)
	assert.Equal(t, int32(2), p.jwksHits.Load())
}

func TestKeyFor_UnknownKidFailsAfterSingleRefresh(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	r := newTestResolver(p.server.Client())
	ctx := context.Background()

	_, err := r.KeyFor(ctx, "missing", testIssuer, p.discoveryURL())
	require.Error(t, err)
	assert.True(t, errors.Is(err, authn.ErrKeyDiscovery))
	// initial load plus exactly one forced refresh
	assert.Equal(t, int32(2), p.jwksHits.Load())

	// repeated misses inside the refresh window do not refetch
	_, err = r.KeyFor(ctx, "missing", testIssuer, p.discoveryURL())
	require.Error(t, err)
	assert.True(t, errors.Is(err, authn.ErrKeyDiscovery))
	assert.Equal(t, int32(2), p.jwksHits.Load())
}

func TestKeyFor_RefreshAllowedAfterInterval(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	r := newTestResolver(p.server.Client())
	now := time.Now()
	r.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := r.KeyFor(ctx, "missing", testIssuer, p.discoveryURL())
	require.Error(t, err)
	require.Equal(t, int32(2), p.jwksHits.Load())

	now = now.Add(2 * time.Minute)
	_, err = r.KeyFor(ctx, "missing", testIssuer, p.discoveryURL())
	require.Error(t, err)
	assert.Equal(t, int32(3), p.jwksHits.Load())
}

func TestResolve_ConcurrentCallersConverge(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	p.discoveryDelay = 50 * time.Millisecond
	r := newTestResolver(p.server.Client())

	const callers = 20
	results := make([]*SigningKeySet, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, err := r.Resolve(context.Background(), testIssuer, p.discoveryURL())
			assert.NoError(t, err)
			results[i] = set
		}(i)
	}
	wg.Wait()

	for _, set := range results {
		assert.Same(t, results[0], set)
	}
	assert.Equal(t, int32(1), p.discoveryHits.Load())
}

func TestResolve_DiscoveryFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed discovery document",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
		},
		{
			name: "missing jwks_uri",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"issuer":"x"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()
			r := newTestResolver(server.Client())

			set, err := r.Resolve(context.Background(), testIssuer, server.URL)

			assert.Nil(t, set)
			assert.True(t, errors.Is(err, authn.ErrKeyDiscovery), "got %v", err)
		})
	}
}

func TestResolve_MalformedKeySet(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/keys" {
			_, _ = w.Write([]byte(`{"keys": "nope"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"jwks_uri": server.URL + "/keys"})
	}))
	defer server.Close()
	r := newTestResolver(server.Client())

	_, err := r.Resolve(context.Background(), testIssuer, server.URL)

	assert.True(t, errors.Is(err, authn.ErrKeyDiscovery))
}

func TestResolve_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()
	r := newTestResolver(http.DefaultClient)

	_, err := r.Resolve(context.Background(), testIssuer, url)

	assert.Equal(t, authn.KindKeyDiscovery, authn.KindOf(err))
}

func TestResolve_CallerCancellation(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	p.discoveryDelay = 200 * time.Millisecond
	r := newTestResolver(p.server.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Resolve(ctx, testIssuer, p.discoveryURL())

	assert.True(t, errors.Is(err, authn.ErrKeyDiscovery))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

type recordingRecorder struct {
	mu     sync.Mutex
	forced []bool
}

func (r *recordingRecorder) KeySetFetched(issuer string, forced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forced = append(r.forced, forced)
}

func TestPurge(t *testing.T) {
	p := newFakeProvider(t)
	p.publish(t, "kid-1")
	rec := &recordingRecorder{}
	r := NewResolver(Config{HTTPClient: p.server.Client(), Recorder: rec})
	ctx := context.Background()

	_, err := r.Resolve(ctx, testIssuer, p.discoveryURL())
	require.NoError(t, err)
	r.Purge()
	_, err = r.Resolve(ctx, testIssuer, p.discoveryURL())
	require.NoError(t, err)

	assert.Equal(t, int32(2), p.discoveryHits.Load())
	assert.Equal(t, []bool{false, false}, rec.forced)
}
