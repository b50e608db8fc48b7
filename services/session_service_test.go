package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/navigator-auth/authn"
	"github.com/upb/navigator-auth/models"
	"github.com/upb/navigator-auth/repositories"
	"github.com/upb/navigator-auth/repositories/memory"
	"github.com/upb/navigator-auth/tokens"
)

type failingStore struct{ err error }

func (s failingStore) Save(context.Context, *models.SessionRecord, time.Duration) error { return s.err }
func (s failingStore) Get(context.Context, string) (*models.SessionRecord, error)       { return nil, s.err }
func (s failingStore) Delete(context.Context, string) error                             { return nil }
func (s failingStore) Ping(context.Context) error                                       { return s.err }

var _ repositories.SessionStore = failingStore{}

func newTestSessionService(t *testing.T, store repositories.SessionStore) *SessionService {
	t.Helper()
	issuer, err := tokens.NewIssuer("session-secret", "HS256", "navigator-auth", time.Hour)
	require.NoError(t, err)
	return NewSessionService(store, issuer, time.Hour, zap.NewNop())
}

func TestSessionService_EstablishAndLoad(t *testing.T) {
	svc := newTestSessionService(t, memory.NewSessionRepository())
	ctx := context.Background()

	identity := &models.Identity{
		UserID:      "alice@example.com",
		Groups:      []string{"users"},
		Backend:     "adfs",
		AccessToken: "provider-token",
	}
	token, err := svc.Establish(ctx, identity)
	require.NoError(t, err)
	assert.NotEmpty(t, identity.SessionKey)

	loaded, claims, err := svc.Load(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", loaded.UserID)
	assert.Equal(t, []string{"users"}, loaded.Groups)
	assert.Equal(t, "provider-token", loaded.AccessToken)
	assert.Equal(t, identity.SessionKey, claims["sid"])
	assert.Equal(t, "navigator-auth", claims["iss"])
	assert.Equal(t, "navigator-auth", svc.Issuer())
}

func TestSessionService_LoadReturnsIndependentIdentities(t *testing.T) {
	svc := newTestSessionService(t, memory.NewSessionRepository())
	ctx := context.Background()

	token, err := svc.Establish(ctx, &models.Identity{
		UserID:     "alice@example.com",
		Groups:     []string{"users"},
		Attributes: map[string]any{"department": "R&D"},
	})
	require.NoError(t, err)

	first, _, err := svc.Load(ctx, token)
	require.NoError(t, err)
	first.UserID = "mallory"
	first.Groups[0] = "admins"
	first.Attributes["department"] = "Sales"

	second, _, err := svc.Load(ctx, token)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, "alice@example.com", second.UserID)
	assert.Equal(t, []string{"users"}, second.Groups)
	assert.Equal(t, "R&D", second.Attributes["department"])
}

func TestSessionService_ConcurrentLoad(t *testing.T) {
	svc := newTestSessionService(t, memory.NewSessionRepository())
	ctx := context.Background()

	token, err := svc.Establish(ctx, &models.Identity{UserID: "alice@example.com", Groups: []string{"users"}})
	require.NoError(t, err)

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity, _, err := svc.Load(ctx, token)
			if assert.NoError(t, err) {
				identity.Groups = append(identity.Groups, "extra")
				assert.Equal(t, "alice@example.com", identity.UserID)
			}
		}()
	}
	wg.Wait()

	identity, _, err := svc.Load(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, identity.Groups)
}

func TestSessionService_Revoke(t *testing.T) {
	svc := newTestSessionService(t, memory.NewSessionRepository())
	ctx := context.Background()

	identity := &models.Identity{UserID: "alice@example.com"}
	token, err := svc.Establish(ctx, identity)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, identity.SessionKey))

	_, _, err = svc.Load(ctx, token)
	assert.True(t, errors.Is(err, authn.ErrInvalidCredentials))
}

func TestSessionService_LoadRejectsForeignTokens(t *testing.T) {
	svc := newTestSessionService(t, memory.NewSessionRepository())
	other, err := tokens.NewIssuer("another-secret", "HS256", "navigator-auth", time.Hour)
	require.NoError(t, err)
	forged, err := other.Issue(map[string]any{"sid": "x"})
	require.NoError(t, err)

	_, _, err = svc.Load(context.Background(), forged)

	assert.True(t, errors.Is(err, authn.ErrSignatureInvalid))
}

func TestSessionService_StoreFailures(t *testing.T) {
	svc := newTestSessionService(t, failingStore{err: errors.New("connection refused")})

	_, err := svc.Establish(context.Background(), &models.Identity{UserID: "alice@example.com"})
	assert.True(t, errors.Is(err, authn.ErrSessionCreationFailed))

	issuer, err := tokens.NewIssuer("session-secret", "HS256", "navigator-auth", time.Hour)
	require.NoError(t, err)
	token, err := issuer.Issue(map[string]any{"sid": "sid-1"})
	require.NoError(t, err)

	_, _, err = svc.Load(context.Background(), token)
	assert.True(t, errors.Is(err, authn.ErrUpstreamUnavailable))
}
