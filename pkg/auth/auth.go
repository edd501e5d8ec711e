// Package auth is the entry point of the authentication engine. An Auth
// owns one token store and builds authenticators from caller options and
// its own defaults.
package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/authenticator"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
	"github.com/telekom/authctl/pkg/tokenstore"
)

// Options holds the defaults applied to every login and lookup.
type Options struct {
	BaseURL  string
	Env      string
	Realm    string
	ClientID string

	TokenRefreshThreshold time.Duration
	PersistSecrets        bool
	VerifyTokens          bool
	Timeout               time.Duration

	// TokenStore is used as is when set. Otherwise a store of
	// TokenStoreType is opened below HomeDir.
	TokenStore     tokenstore.Store
	TokenStoreType tokenstore.Type
	HomeDir        string
	KeyringService string

	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// LoginOptions describes one authenticator. Empty fields fall back to the
// Auth defaults.
type LoginOptions struct {
	BaseURL  string
	Env      string
	Realm    string
	ClientID string

	Credentials authenticator.Credentials
	Endpoints   map[string]string

	AccessType   string
	ResponseType string
	Scope        string
	Profile      string

	// Code and CodeVerifier complete an interactive login.
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// LogoutOptions selects the accounts to log out. All removes every account,
// optionally only those of BaseURL.
type LogoutOptions struct {
	Accounts []string
	All      bool
	BaseURL  string
	// LocalOnly skips ending the server side sessions.
	LocalOnly bool
}

// Auth is the authentication facade.
type Auth struct {
	opts  Options
	store tokenstore.Store
	log   *zap.SugaredLogger
	now   func() time.Time
}

// New opens the configured token store.
func New(ctx context.Context, opts Options) (*Auth, error) {
	log := system.OrNop(opts.Logger)
	store := opts.TokenStore
	if store == nil {
		var err error
		store, err = tokenstore.Open(ctx, tokenstore.Options{
			Type:           opts.TokenStoreType,
			HomeDir:        opts.HomeDir,
			KeyringService: opts.KeyringService,
			Logger:         log,
		})
		if err != nil {
			return nil, err
		}
	}
	return &Auth{opts: opts, store: store, log: log, now: time.Now}, nil
}

// Store returns the token store owned by a.
func (a *Auth) Store() tokenstore.Store {
	return a.store
}

// Authenticator builds the authenticator described by opts.
func (a *Auth) Authenticator(opts LoginOptions) (*authenticator.Authenticator, error) {
	base := a.authenticatorOptions()
	base.BaseURL = valueOr(opts.BaseURL, a.opts.BaseURL)
	base.Env = valueOr(opts.Env, a.opts.Env)
	base.Realm = valueOr(opts.Realm, a.opts.Realm)
	base.ClientID = valueOr(opts.ClientID, a.opts.ClientID)
	base.Endpoints = opts.Endpoints
	base.AccessType = opts.AccessType
	base.ResponseType = opts.ResponseType
	base.Scope = opts.Scope
	base.Profile = opts.Profile
	return authenticator.New(base, opts.Credentials)
}

func (a *Auth) authenticatorOptions() authenticator.Options {
	return authenticator.Options{
		TokenRefreshThreshold: a.opts.TokenRefreshThreshold,
		PersistSecrets:        a.opts.PersistSecrets,
		VerifyTokens:          a.opts.VerifyTokens,
		Store:                 a.store,
		Timeout:               a.opts.Timeout,
		HTTPClient:            a.opts.HTTPClient,
		Logger:                a.log,
	}
}

// Login authenticates with a fresh grant and stores the account.
func (a *Auth) Login(ctx context.Context, opts LoginOptions) (*account.Account, error) {
	auth, err := a.Authenticator(opts)
	if err != nil {
		return nil, err
	}
	a.log.Infow("Logging in", "authenticator", auth.Name(), "baseUrl", auth.BaseURL(), "hash", auth.Hash())
	return auth.Login(ctx, authenticator.LoginParams{
		Code:         opts.Code,
		CodeVerifier: opts.CodeVerifier,
		RedirectURI:  opts.RedirectURI,
	})
}

// AuthorizationURL returns the URL the browser collaborator opens for an
// interactive login of opts, together with the PKCE verifier to pass back
// in LoginOptions.CodeVerifier.
func (a *Auth) AuthorizationURL(opts LoginOptions, state string) (string, string, error) {
	auth, err := a.Authenticator(opts)
	if err != nil {
		return "", "", err
	}
	verifier := authenticator.NewVerifier()
	return auth.AuthorizationURL(state, verifier), verifier, nil
}

// Find returns the stored account with the given name or hash, refreshing
// it when needed. It returns nil, nil when there is no usable account.
func (a *Auth) Find(ctx context.Context, nameOrHash string) (*account.Account, error) {
	if nameOrHash == "" {
		return nil, autherr.InvalidArgument("account name or hash is required")
	}
	acct, err := a.store.Get(ctx, tokenstore.Selector{AccountName: nameOrHash, Hash: nameOrHash})
	if err != nil || acct == nil {
		return nil, err
	}
	if usable, done := a.settle(acct); done {
		return usable, nil
	}
	auth, err := authenticator.FromAccount(acct, a.authenticatorOptions())
	if err != nil {
		return nil, err
	}
	return a.renew(ctx, auth)
}

// FindFor returns the stored account of the authenticator described by
// opts, refreshing or re-authenticating it when needed. Nothing is
// requested for a configuration that was never logged in.
func (a *Auth) FindFor(ctx context.Context, opts LoginOptions) (*account.Account, error) {
	auth, err := a.Authenticator(opts)
	if err != nil {
		return nil, err
	}
	acct, err := a.store.Get(ctx, tokenstore.Selector{Hash: auth.Hash()})
	if err != nil || acct == nil {
		return nil, err
	}
	if usable, done := a.settle(acct); done {
		return usable, nil
	}
	return a.renew(ctx, auth)
}

// settle decides without a network call. done is false when the account
// needs a token request.
func (a *Auth) settle(acct *account.Account) (*account.Account, bool) {
	now := a.now()
	if acct.AccessValid(now, a.opts.TokenRefreshThreshold) {
		metrics.TokenCacheHits.WithLabelValues(acct.Auth.Authenticator).Inc()
		return acct, true
	}
	if !acct.RefreshValid(now) && !acct.CanReauthenticate() {
		a.log.Debugw("Account expired and cannot be renewed", system.AccountFields(acct.Name, acct.Hash)...)
		return nil, true
	}
	return nil, false
}

func (a *Auth) renew(ctx context.Context, auth *authenticator.Authenticator) (*account.Account, error) {
	acct, err := auth.GetToken(ctx, false)
	if errors.Is(err, autherr.ErrInvalidGrant) {
		return nil, nil
	}
	return acct, err
}

// List returns all stored accounts.
func (a *Auth) List(ctx context.Context) ([]*account.Account, error) {
	return a.store.List(ctx)
}

// Logout removes the selected accounts and ends their server side sessions
// on a best-effort basis. It returns the removed accounts.
func (a *Auth) Logout(ctx context.Context, opts LogoutOptions) ([]*account.Account, error) {
	var (
		removed []*account.Account
		err     error
	)
	switch {
	case opts.All:
		removed, err = a.store.Clear(ctx, opts.BaseURL)
	case len(opts.Accounts) > 0:
		removed, err = a.store.Delete(ctx, opts.Accounts, opts.BaseURL)
	default:
		return nil, autherr.InvalidArgument("must specify the accounts to log out or all")
	}
	if err != nil {
		return nil, err
	}
	if opts.LocalOnly {
		return removed, nil
	}
	for _, acct := range removed {
		if err := a.revoke(ctx, acct); err != nil {
			a.log.Warnw("Failed to end server session", append(system.AccountFields(acct.Name, acct.Hash), "error", err)...)
		}
	}
	return removed, nil
}

func (a *Auth) revoke(ctx context.Context, acct *account.Account) error {
	opts := a.authenticatorOptions()
	opts.Store = nil
	auth, err := authenticator.FromAccount(acct, opts)
	if err != nil {
		return err
	}
	return auth.Logout(ctx, acct)
}

// ServerInfo returns the discovery document of the server described by
// opts.
func (a *Auth) ServerInfo(ctx context.Context, opts LoginOptions) (map[string]any, error) {
	base := a.authenticatorOptions()
	base.BaseURL = valueOr(opts.BaseURL, a.opts.BaseURL)
	base.Env = valueOr(opts.Env, a.opts.Env)
	base.Realm = valueOr(opts.Realm, a.opts.Realm)
	base.ClientID = valueOr(opts.ClientID, a.opts.ClientID)
	base.Endpoints = opts.Endpoints
	return authenticator.Discover(ctx, base)
}

// UpdateAccount writes acct back, typically after a collaborator changed
// its org, team or profile selection.
func (a *Auth) UpdateAccount(ctx context.Context, acct *account.Account) error {
	return a.store.Set(ctx, acct)
}

// Invalidate removes an account whose token was rejected by an
// authenticated call, so the next Find does not return it again.
func (a *Auth) Invalidate(ctx context.Context, nameOrHash string) ([]*account.Account, error) {
	removed, err := a.store.Delete(ctx, []string{nameOrHash}, "")
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		metrics.AccountsEvicted.WithLabelValues("unauthorized").Add(float64(len(removed)))
		a.log.Infow("Removed rejected account", "account", nameOrHash)
	}
	return removed, nil
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
