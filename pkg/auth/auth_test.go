/*
SPDX-FileCopyrightText: 2025 Deutsche Telekom AG

SPDX-License-Identifier: Apache-2.0
*/

package auth

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/authenticator"
	"github.com/telekom/authctl/pkg/authenticator/authtest"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/system"
	"github.com/telekom/authctl/pkg/tokenstore"
)

var serviceCreds = authenticator.ClientSecretCredentials{ClientSecret: "s3cr3t", ServiceAccount: true}

func newTestAuth(t *testing.T, srv *authtest.Server, mutate ...func(*Options)) *Auth {
	t.Helper()
	opts := Options{
		BaseURL:        srv.URL,
		Realm:          authtest.Realm,
		ClientID:       "test-client",
		TokenStoreType: tokenstore.TypeMemory,
		Logger:         system.NewTestLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	a, err := New(context.Background(), opts)
	require.NoError(t, err)
	return a
}

func TestLoginScenario(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
		return http.StatusOK, srv.Tokens("foo", "bar1", 10, 600)
	})
	a := newTestAuth(t, srv)

	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)
	assert.Equal(t, "foo", acct.Auth.Tokens.AccessToken())
	assert.InDelta(t, account.Millis(time.Now())+10000, acct.Auth.Expires.Access, 100)

	list, err := a.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	removed, err := a.Logout(ctx, LogoutOptions{Accounts: []string{acct.Name}})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, acct.Hash, removed[0].Hash)

	list, err = a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	logouts := srv.LogoutRequests()
	require.Len(t, logouts, 1)
	assert.Equal(t, "bar1", logouts[0].Get("refresh_token"))
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	home := t.TempDir()
	withFile := func(o *Options) {
		o.TokenStoreType = tokenstore.TypeFile
		o.HomeDir = home
	}

	first := newTestAuth(t, srv, withFile)
	acct, err := first.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	second := newTestAuth(t, srv, withFile)
	assert.Equal(t, tokenstore.TypeFile, second.Store().Type())
	list, err := second.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, acct, list[0])

	found, err := second.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Equal(t, acct.Auth.Tokens.AccessToken(), found.Auth.Tokens.AccessToken())
	assert.Len(t, srv.TokenRequests(), 1)
}

func TestAutoStoreUsesVault(t *testing.T) {
	keyring.MockInit()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv, func(o *Options) {
		o.TokenStoreType = tokenstore.TypeAuto
		o.HomeDir = t.TempDir()
		o.KeyringService = "authctl-auth-test"
	})
	assert.Equal(t, tokenstore.TypeSecure, a.Store().Type())
}

func TestFind_FastPath(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		found, err := a.Find(ctx, acct.Hash)
		require.NoError(t, err)
		require.NotNil(t, found)
		byOpts, err := a.FindFor(ctx, LoginOptions{Credentials: serviceCreds})
		require.NoError(t, err)
		require.NotNil(t, byOpts)
	}
	assert.Len(t, srv.TokenRequests(), 1)
}

func TestFind_RefreshesOnce(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	acct.Auth.Expires.Access = account.Millis(time.Now().Add(-time.Second))
	require.NoError(t, a.UpdateAccount(ctx, acct))

	for i := 0; i < 2; i++ {
		found, err := a.Find(ctx, acct.Name)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "access-2", found.Auth.Tokens.AccessToken())
	}
	reqs := srv.TokenRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, authenticator.GrantRefreshToken, reqs[1].Get("grant_type"))
}

func TestFind_ExpiredWithoutSecret(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	past := account.Millis(time.Now().Add(-time.Minute))
	acct.Auth.Expires.Access = account.Millis(time.Now().Add(time.Hour))
	acct.Auth.Tokens["access_token"] = ""
	acct.Auth.Expires.Refresh = &past
	require.NoError(t, a.UpdateAccount(ctx, acct))

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Len(t, srv.TokenRequests(), 1)
}

func TestFind_InvalidGrantEvicts(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	acct.Auth.Expires.Access = account.Millis(time.Now().Add(-time.Second))
	require.NoError(t, a.UpdateAccount(ctx, acct))
	srv.SetTokenHandler(func(int, url.Values) (int, map[string]any) {
		return http.StatusBadRequest, authtest.OAuthError("invalid_grant", "Token is not active")
	})

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)

	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFind_PersistedSecretReauthenticates(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv, func(o *Options) {
		o.PersistSecrets = true
		o.TokenRefreshThreshold = time.Minute
	})
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	past := account.Millis(time.Now().Add(-time.Minute))
	acct.Auth.Expires.Access = account.Millis(time.Now().Add(5 * time.Second))
	acct.Auth.Expires.Refresh = &past
	require.NoError(t, a.UpdateAccount(ctx, acct))

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	require.NotNil(t, found)
	reqs := srv.TokenRequests()
	require.Len(t, reqs, 2)
	assert.Equal(t, authenticator.GrantClientCredentials, reqs[1].Get("grant_type"))
}

func TestFind_InteractiveSecretDoesNotReauthenticate(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv, func(o *Options) {
		o.PersistSecrets = true
		o.TokenRefreshThreshold = time.Minute
	})
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	past := account.Millis(time.Now().Add(-time.Minute))
	acct.Auth.ServiceAccount = false
	acct.Auth.Expires.Access = account.Millis(time.Now().Add(5 * time.Second))
	acct.Auth.Expires.Refresh = &past
	require.NoError(t, a.UpdateAccount(ctx, acct))

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Len(t, srv.TokenRequests(), 1)
}

func TestFind_BothWindowsElapsedIsPurged(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv, func(o *Options) { o.PersistSecrets = true })
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	past := account.Millis(time.Now().Add(-time.Minute))
	acct.Auth.Expires.Access = past
	acct.Auth.Expires.Refresh = &past
	require.NoError(t, a.UpdateAccount(ctx, acct))

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Len(t, srv.TokenRequests(), 1)

	list, err := a.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFind_Missing(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)

	found, err := a.Find(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = a.FindFor(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)
	assert.Nil(t, found)
	assert.Empty(t, srv.TokenRequests())

	_, err = a.Find(ctx, "")
	assert.ErrorIs(t, err, autherr.ErrInvalidArgument)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)

	_, err := a.Logout(ctx, LogoutOptions{})
	assert.ErrorIs(t, err, autherr.ErrInvalidArgument)

	_, err = a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)
	_, err = a.Login(ctx, LoginOptions{ClientID: "other-client", Credentials: serviceCreds})
	require.NoError(t, err)

	removed, err := a.Logout(ctx, LogoutOptions{All: true, BaseURL: "https://elsewhere.example.com"})
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = a.Logout(ctx, LogoutOptions{All: true, LocalOnly: true})
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Empty(t, srv.LogoutRequests())
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	removed, err := a.Invalidate(ctx, acct.Name)
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	found, err := a.Find(ctx, acct.Name)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpdateAccount(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	acct, err := a.Login(ctx, LoginOptions{Credentials: serviceCreds})
	require.NoError(t, err)

	acct.Org = &account.Org{ID: "200", Name: "Acme"}
	acct.Team = []byte(`{"guid":"team-1"}`)
	require.NoError(t, a.UpdateAccount(ctx, acct))

	found, err := a.Find(ctx, acct.Hash)
	require.NoError(t, err)
	assert.Equal(t, "Acme", found.Org.Name)
	assert.JSONEq(t, `{"guid":"team-1"}`, string(found.Team))
}

func TestServerInfo(t *testing.T) {
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	doc, err := a.ServerInfo(context.Background(), LoginOptions{})
	require.NoError(t, err)
	assert.Equal(t, srv.TokenURL(), doc["token_endpoint"])
}

func TestAuthorizationURLAndCodeLogin(t *testing.T) {
	ctx := context.Background()
	srv := authtest.NewServer(t)
	a := newTestAuth(t, srv)
	opts := LoginOptions{Credentials: authenticator.ClientSecretCredentials{ClientSecret: "s3cr3t"}}

	raw, verifier, err := a.AuthorizationURL(opts, "xyz")
	require.NoError(t, err)
	assert.Contains(t, raw, "code_challenge=")
	require.NotEmpty(t, verifier)

	opts.Code = "code-from-browser"
	opts.CodeVerifier = verifier
	acct, err := a.Login(ctx, opts)
	require.NoError(t, err)
	assert.False(t, acct.Auth.ServiceAccount)
	assert.Equal(t, verifier, srv.TokenRequests()[0].Get("code_verifier"))
}
