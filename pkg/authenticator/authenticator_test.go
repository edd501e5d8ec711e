package authenticator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/authenticator/authtest"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/system"
	"github.com/telekom/authctl/pkg/tokenstore"
)

func newTestAuthenticator(t *testing.T, srv *authtest.Server, store tokenstore.Store, creds Credentials, mutate ...func(*Options)) *Authenticator {
	t.Helper()
	opts := Options{
		BaseURL:  srv.URL,
		ClientID: "test-client",
		Realm:    authtest.Realm,
		Store:    store,
		Logger:   system.NewTestLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	a, err := New(opts, creds)
	require.NoError(t, err)
	return a
}

func grants(reqs []url.Values) []string {
	out := make([]string, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Get("grant_type"))
	}
	return out
}

func TestGetToken_ClientSecretServiceAccount(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
		return http.StatusOK, srv.Tokens("foo", "bar1", 10, 600)
	})
	store := tokenstore.NewMemoryStore(nil)
	a := newTestAuthenticator(t, srv, store, testCreds)

	start := time.Now()
	acct, err := a.GetToken(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, "foo", acct.Auth.Tokens.AccessToken())
	assert.Equal(t, "bar1", acct.Auth.Tokens.RefreshToken())
	assert.InDelta(t, account.Millis(start)+10000, acct.Auth.Expires.Access, 100)
	require.NotNil(t, acct.Auth.Expires.Refresh)
	assert.InDelta(t, account.Millis(start)+600000, *acct.Auth.Expires.Refresh, 100)

	assert.Equal(t, a.Hash(), acct.Hash)
	assert.Equal(t, a.Hash(), acct.Name)
	assert.Equal(t, "ClientSecret", acct.Auth.Authenticator)
	assert.Equal(t, srv.URL, acct.Auth.BaseURL)
	assert.True(t, acct.Auth.ServiceAccount)
	assert.Equal(t, "azure", acct.Auth.IDP)
	assert.Equal(t, "user-guid", acct.User.GUID)
	assert.Equal(t, "svc@example.com", acct.User.Email)
	assert.Equal(t, "Service", acct.User.FirstName)
	assert.Equal(t, "Account", acct.User.LastName)
	require.NotNil(t, acct.Org)
	assert.Equal(t, "org-1", acct.Org.ID)
	assert.Empty(t, acct.Auth.ClientSecret)
	assert.Nil(t, acct.Auth.Endpoints)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, GrantClientCredentials, reqs[0].Get("grant_type"))
	assert.Equal(t, "test-client", reqs[0].Get("client_id"))
	assert.Equal(t, "s3cr3t", reqs[0].Get("client_secret"))
	assert.Equal(t, DefaultScope, reqs[0].Get("scope"))

	stored, err := store.Get(ctx, tokenstore.Selector{Hash: a.Hash()})
	require.NoError(t, err)
	assert.Equal(t, acct, stored)
}

func TestGetToken_FastPath(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, tokenstore.NewMemoryStore(nil), testCreds)

	first, err := a.GetToken(ctx, false)
	require.NoError(t, err)
	second, err := a.GetToken(ctx, false)
	require.NoError(t, err)

	assert.Len(t, srv.TokenRequests(), 1)
	assert.Equal(t, first.Auth.Tokens.AccessToken(), second.Auth.Tokens.AccessToken())
}

func TestGetToken_ForceUsesRefreshGrant(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, tokenstore.NewMemoryStore(nil), testCreds)

	first, err := a.GetToken(ctx, false)
	require.NoError(t, err)
	second, err := a.GetToken(ctx, true)
	require.NoError(t, err)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []string{GrantClientCredentials, GrantRefreshToken}, grants(reqs))
	assert.Equal(t, "refresh-1", reqs[1].Get("refresh_token"))
	assert.Equal(t, "s3cr3t", reqs[1].Get("client_secret"))
	assert.Equal(t, "test-client", reqs[1].Get("client_id"))

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, "access-2", second.Auth.Tokens.AccessToken())
}

func TestGetToken_RefreshThreshold(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, tokenstore.NewMemoryStore(nil), testCreds, func(o *Options) {
		o.TokenRefreshThreshold = 10 * time.Minute
	})

	_, err := a.GetToken(ctx, false)
	require.NoError(t, err)
	_, err = a.GetToken(ctx, false)
	require.NoError(t, err)

	assert.Equal(t, []string{GrantClientCredentials, GrantRefreshToken}, grants(srv.TokenRequests()))
}

func TestGetToken_ExpiredRefreshRunsPrimaryGrant(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	store := tokenstore.NewMemoryStore(nil)
	a := newTestAuthenticator(t, srv, store, testCreds, func(o *Options) { o.PersistSecrets = true })

	acct, err := a.GetToken(ctx, false)
	require.NoError(t, err)
	past := account.Millis(time.Now().Add(-time.Minute))
	acct.Auth.Expires.Access = past
	acct.Auth.Expires.Refresh = &past
	require.NoError(t, store.Set(ctx, acct))

	_, err = a.GetToken(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{GrantClientCredentials, GrantClientCredentials}, grants(srv.TokenRequests()))
}

func TestGetToken_InvalidGrantFallsBackToPrimaryGrant(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	srv.SetTokenHandler(func(n int, form url.Values) (int, map[string]any) {
		if form.Get("grant_type") == GrantRefreshToken {
			return http.StatusBadRequest, authtest.OAuthError("invalid_grant", "Token is not active")
		}
		return srv.DefaultTokens(n, form)
	})
	store := tokenstore.NewMemoryStore(nil)
	a := newTestAuthenticator(t, srv, store, testCreds)

	_, err := a.GetToken(ctx, false)
	require.NoError(t, err)
	acct, err := a.GetToken(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, []string{GrantClientCredentials, GrantRefreshToken, GrantClientCredentials}, grants(srv.TokenRequests()))
	assert.Equal(t, "access-3", acct.Auth.Tokens.AccessToken())
}

func TestGetToken_InvalidGrantEvictsRestoredAccount(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	store := tokenstore.NewMemoryStore(nil)
	a := newTestAuthenticator(t, srv, store, testCreds)
	acct, err := a.GetToken(ctx, false)
	require.NoError(t, err)

	srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
		return http.StatusBadRequest, authtest.OAuthError("invalid_grant", "Session not active")
	})
	restored, err := FromAccount(acct, Options{Store: store})
	require.NoError(t, err)
	assert.Equal(t, acct.Hash, restored.Hash())

	_, err = restored.GetToken(ctx, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, autherr.ErrInvalidGrant)
	assert.ErrorIs(t, err, autherr.ErrAuthFailed)
	assert.Equal(t, http.StatusBadRequest, autherr.StatusOf(err))
	assert.Contains(t, err.Error(), "Session not active")

	stored, err := store.Get(ctx, tokenstore.Selector{Hash: acct.Hash})
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestGetToken_ServerErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected credentials", func(t *testing.T) {
		srv := authtest.NewServer(t)
		srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
			return http.StatusUnauthorized, authtest.OAuthError("unauthorized_client", "Invalid client secret")
		})
		_, err := newTestAuthenticator(t, srv, nil, testCreds).GetToken(ctx, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, autherr.ErrAuthFailed)
		assert.NotErrorIs(t, err, autherr.ErrInvalidGrant)
		assert.Equal(t, http.StatusUnauthorized, autherr.StatusOf(err))
		assert.Contains(t, err.Error(), "Invalid client secret")
	})

	t.Run("undecodable identity", func(t *testing.T) {
		srv := authtest.NewServer(t)
		srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
			return http.StatusOK, map[string]any{"access_token": "opaque", "expires_in": 300}
		})
		store := tokenstore.NewMemoryStore(nil)
		_, err := newTestAuthenticator(t, srv, store, testCreds).GetToken(ctx, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, autherr.ErrAuthFailed)
		assert.Contains(t, err.Error(), "invalid server response")

		list, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("missing access token", func(t *testing.T) {
		srv := authtest.NewServer(t)
		srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
			return http.StatusOK, map[string]any{"token_type": "Bearer"}
		})
		_, err := newTestAuthenticator(t, srv, nil, testCreds).GetToken(ctx, false)
		assert.ErrorIs(t, err, autherr.ErrAuthFailed)
	})

	t.Run("connection refused passes through", func(t *testing.T) {
		closed := httptest.NewServer(http.NotFoundHandler())
		closed.Close()
		a, err := New(Options{BaseURL: closed.URL, ClientID: "cli", Realm: "Broker"}, testCreds)
		require.NoError(t, err)

		_, err = a.GetToken(ctx, false)
		require.Error(t, err)
		assert.True(t, errors.Is(err, syscall.ECONNREFUSED), "got %v", err)
		assert.Empty(t, autherr.CodeOf(err))
	})
}

func TestGetToken_NoRefreshLifetime(t *testing.T) {
	srv := authtest.NewServer(t)
	srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
		return http.StatusOK, srv.Tokens("foo", "bar", 60, 0)
	})
	acct, err := newTestAuthenticator(t, srv, nil, testCreds).GetToken(context.Background(), false)
	require.NoError(t, err)
	assert.Nil(t, acct.Auth.Expires.Refresh)
}

func TestGetToken_UserinfoFailureIsNotFatal(t *testing.T) {
	srv := authtest.NewServer(t)
	srv.SetUserinfo(http.StatusForbidden, authtest.OAuthError("insufficient_scope", "no"))
	acct, err := newTestAuthenticator(t, srv, nil, testCreds).GetToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "user-guid", acct.User.GUID)
	assert.Empty(t, acct.User.Email)
}

func TestGetToken_PersistSecrets(t *testing.T) {
	srv := authtest.NewServer(t)
	acct, err := newTestAuthenticator(t, srv, nil, testCreds, func(o *Options) { o.PersistSecrets = true }).
		GetToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", acct.Auth.ClientSecret)
	assert.Empty(t, acct.Auth.Secret)
}

func TestGetToken_OverriddenEndpoints(t *testing.T) {
	srv := authtest.NewServer(t)
	oidcURL := srv.URL + "/auth/realms/" + authtest.Realm + "/protocol/openid-connect"
	a := newTestAuthenticator(t, srv, nil, testCreds, func(o *Options) {
		o.BaseURL = "https://unused.example.com"
		o.Endpoints = map[string]string{
			EndpointToken:    oidcURL + "/token",
			EndpointUserinfo: oidcURL + "/userinfo",
			EndpointLogout:   oidcURL + "/logout",
		}
	})

	acct, err := a.GetToken(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, oidcURL+"/token", acct.Auth.Endpoints[EndpointToken])
	assert.Equal(t, "svc@example.com", acct.User.Email)
	assert.Equal(t, 1, srv.UserinfoCalls())

	require.NoError(t, a.Logout(context.Background(), acct))
	logouts := srv.LogoutRequests()
	require.Len(t, logouts, 1)
	assert.Equal(t, "refresh-1", logouts[0].Get("refresh_token"))
	assert.Equal(t, "s3cr3t", logouts[0].Get("client_secret"))
}

func TestLogout_DefaultEndpoints(t *testing.T) {
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, nil, testCreds)
	acct, err := a.GetToken(context.Background(), false)
	require.NoError(t, err)

	require.NoError(t, a.Logout(context.Background(), acct))
	logouts := srv.LogoutRequests()
	require.Len(t, logouts, 1)
	assert.Equal(t, "refresh-1", logouts[0].Get("refresh_token"))
	assert.Equal(t, "test-client", logouts[0].Get("client_id"))

	delete(acct.Auth.Tokens, "refresh_token")
	require.NoError(t, a.Logout(context.Background(), acct))
	assert.Len(t, srv.LogoutRequests(), 1)
}

func TestLogin_AuthorizationCode(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, tokenstore.NewMemoryStore(nil), ClientSecretCredentials{ClientSecret: "s3cr3t"})

	_, err := a.Login(ctx, LoginParams{})
	assert.ErrorIs(t, err, autherr.ErrInvalidArgument)
	assert.Empty(t, srv.TokenRequests())

	acct, err := a.Login(ctx, LoginParams{Code: "the-code", CodeVerifier: "the-verifier"})
	require.NoError(t, err)
	assert.False(t, acct.Auth.ServiceAccount)

	reqs := srv.TokenRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, GrantAuthorizationCode, reqs[0].Get("grant_type"))
	assert.Equal(t, "the-code", reqs[0].Get("code"))
	assert.Equal(t, "the-verifier", reqs[0].Get("code_verifier"))
	assert.Equal(t, DefaultRedirectURI, reqs[0].Get("redirect_uri"))
}

func TestLogin_AlwaysRunsPrimaryGrant(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuthenticator(t, srv, tokenstore.NewMemoryStore(nil), testCreds)

	_, err := a.Login(ctx, LoginParams{})
	require.NoError(t, err)
	_, err = a.Login(ctx, LoginParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{GrantClientCredentials, GrantClientCredentials}, grants(srv.TokenRequests()))
}

func TestGetToken_VerifyTokens(t *testing.T) {
	ctx := context.Background()

	t.Run("valid signature", func(t *testing.T) {
		srv := authtest.NewServer(t)
		a := newTestAuthenticator(t, srv, nil, testCreds, func(o *Options) { o.VerifyTokens = true })
		acct, err := a.GetToken(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, "user-guid", acct.User.GUID)
	})

	t.Run("foreign signature", func(t *testing.T) {
		srv := authtest.NewServer(t)
		other := authtest.NewServer(t)
		srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
			return http.StatusOK, other.Tokens("foo", "bar", 60, 600)
		})
		a := newTestAuthenticator(t, srv, nil, testCreds, func(o *Options) { o.VerifyTokens = true })
		_, err := a.GetToken(ctx, false)
		require.Error(t, err)
		assert.ErrorIs(t, err, autherr.ErrAuthFailed)
		assert.Contains(t, err.Error(), "invalid server response")
	})
}

func TestFromAccount(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	store := tokenstore.NewMemoryStore(nil)
	a := newTestAuthenticator(t, srv, store, testCreds, func(o *Options) { o.PersistSecrets = true })
	acct, err := a.GetToken(ctx, false)
	require.NoError(t, err)

	restored, err := FromAccount(acct, Options{Store: store})
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), restored.Hash())
	assert.Equal(t, "ClientSecret", restored.Name())

	// Without a refresh token the persisted secret is used for the primary grant.
	delete(acct.Auth.Tokens, "refresh_token")
	require.NoError(t, store.Set(ctx, acct))
	again, err := restored.GetToken(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", again.Auth.ClientSecret)
	assert.Equal(t, []string{GrantClientCredentials, GrantClientCredentials}, grants(srv.TokenRequests()))
}

func TestFromAccount_WithoutSecretCannotReauthenticate(t *testing.T) {
	srv := authtest.NewServer(t)
	acct, err := newTestAuthenticator(t, srv, nil, testCreds).GetToken(context.Background(), false)
	require.NoError(t, err)
	delete(acct.Auth.Tokens, "refresh_token")

	restored, err := FromAccount(acct, Options{})
	require.NoError(t, err)
	_, err = restored.Login(context.Background(), LoginParams{})
	assert.ErrorIs(t, err, autherr.ErrAuthFailed)
	assert.Len(t, srv.TokenRequests(), 1)
}

func TestDiscover(t *testing.T) {
	srv := authtest.NewServer(t)
	doc, err := Discover(context.Background(), Options{BaseURL: srv.URL, ClientID: "cli", Realm: authtest.Realm})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/auth/realms/"+authtest.Realm, doc["issuer"])
	assert.Equal(t, srv.TokenURL(), doc["token_endpoint"])

	custom, err := Discover(context.Background(), Options{
		BaseURL:   "https://unused.example.com",
		ClientID:  "cli",
		Realm:     authtest.Realm,
		Endpoints: map[string]string{EndpointWellKnown: srv.URL + "/auth/realms/" + authtest.Realm + "/.well-known/openid-configuration"},
	})
	require.NoError(t, err)
	assert.Equal(t, doc["issuer"], custom["issuer"])

	noClient, err := Discover(context.Background(), Options{BaseURL: srv.URL, Realm: authtest.Realm})
	require.NoError(t, err)
	assert.Equal(t, doc["issuer"], noClient["issuer"])

	_, err = Discover(context.Background(), Options{ClientID: "cli", Realm: "Broker"})
	assert.ErrorIs(t, err, autherr.ErrMissingRequiredParameter)
}
