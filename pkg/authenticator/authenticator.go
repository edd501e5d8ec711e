package authenticator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/crypto"
	"github.com/telekom/authctl/pkg/environment"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
	"github.com/telekom/authctl/pkg/tokenstore"
	"github.com/telekom/authctl/pkg/version"
)

// Authenticator owns one OAuth2 client configuration.
type Authenticator struct {
	cfg      *config
	strategy Strategy
	hash     string

	store          tokenstore.Store
	profile        string
	persistSecrets bool
	verifyTokens   bool

	http *resty.Client
	// keycloak is set when all endpoints follow the realm layout.
	keycloak *gocloak.GoCloak
	log      *zap.SugaredLogger
	now      func() time.Time
}

// New validates opts and builds an authenticator for creds.
func New(opts Options, creds Credentials) (*Authenticator, error) {
	cfg, err := opts.validate()
	if err != nil {
		return nil, err
	}
	strategy, err := newStrategy(creds, cfg.clientID)
	if err != nil {
		return nil, err
	}
	return newAuthenticator(opts, cfg, strategy)
}

// FromAccount restores the authenticator that produced acct. Without
// persisted secrets the result can refresh but not run the primary grant.
// The restored authenticator keeps the stored hash.
func FromAccount(acct *account.Account, opts Options) (*Authenticator, error) {
	opts.BaseURL = acct.Auth.BaseURL
	opts.ClientID = acct.Auth.ClientID
	opts.Realm = acct.Auth.Realm
	opts.Env = acct.Auth.Env
	opts.Endpoints = acct.Auth.Endpoints
	if opts.Profile == "" {
		opts.Profile = acct.Profile
	}
	cfg, err := opts.validate()
	if err != nil {
		return nil, err
	}

	var strategy Strategy
	if creds := CredentialsFromAccount(acct); creds != nil {
		if strategy, err = newStrategy(creds, cfg.clientID); err != nil {
			return nil, err
		}
		opts.PersistSecrets = true
	} else {
		strategy = &storedSession{name: acct.Auth.Authenticator, serviceAccount: acct.Auth.ServiceAccount}
	}
	a, err := newAuthenticator(opts, cfg, strategy)
	if err != nil {
		return nil, err
	}
	a.hash = acct.Hash
	return a, nil
}

func newAuthenticator(opts Options, cfg *config, strategy Strategy) (*Authenticator, error) {
	hash, err := computeHash(cfg, strategy)
	if err != nil {
		return nil, err
	}
	client := resty.New()
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	}
	client.SetTimeout(cfg.timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	a := &Authenticator{
		cfg:            cfg,
		strategy:       strategy,
		hash:           hash,
		store:          opts.Store,
		profile:        opts.Profile,
		persistSecrets: opts.PersistSecrets,
		verifyTokens:   opts.VerifyTokens,
		http:           client,
		log:            system.OrNop(opts.Logger),
		now:            time.Now,
	}
	if !cfg.overridden {
		a.keycloak = gocloak.NewClient(cfg.baseURL, gocloak.SetLegacyWildFlySupport())
		a.keycloak.SetRestyClient(client)
	}
	return a, nil
}

// computeHash identifies the configuration: clientId plus the md5 of the
// structural parameters. Secrets never take part.
func computeHash(cfg *config, strategy Strategy) (string, error) {
	params := map[string]any{
		"baseUrl": cfg.baseURL,
		"realm":   cfg.realm,
	}
	if cfg.env != "" && !environment.IsProd(cfg.env) {
		params["env"] = cfg.env
	}
	for k, v := range strategy.HashParams() {
		params[k] = v
	}
	sum, err := crypto.MD5Hex(params)
	if err != nil {
		return "", fmt.Errorf("failed to hash authenticator configuration: %w", err)
	}
	return cfg.clientID + ":" + sum, nil
}

func (a *Authenticator) Hash() string { return a.hash }

// Name is the strategy name, for example ClientSecret.
func (a *Authenticator) Name() string { return a.strategy.Name() }

func (a *Authenticator) BaseURL() string  { return a.cfg.baseURL }
func (a *Authenticator) ClientID() string { return a.cfg.clientID }
func (a *Authenticator) Realm() string    { return a.cfg.realm }
func (a *Authenticator) Env() string      { return a.cfg.env }

// Endpoint returns the URL of a named endpoint.
func (a *Authenticator) Endpoint(name string) string {
	return a.cfg.endpoints[name]
}

// GetToken returns a usable account. A stored access token that is valid
// beyond the refresh threshold is returned without a network call unless
// force is set. Otherwise a valid refresh token is exchanged, falling back
// to the primary grant.
func (a *Authenticator) GetToken(ctx context.Context, force bool) (*account.Account, error) {
	return a.getToken(ctx, force, false, LoginParams{})
}

// Login always runs the primary grant. Interactive logins pass the
// authorization code obtained by the browser.
func (a *Authenticator) Login(ctx context.Context, params LoginParams) (*account.Account, error) {
	return a.getToken(ctx, true, true, params)
}

func (a *Authenticator) getToken(ctx context.Context, force, primaryOnly bool, params LoginParams) (*account.Account, error) {
	stored, err := a.lookup(ctx)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if stored != nil && !force && stored.AccessValid(now, a.cfg.threshold) {
		a.log.Debugw("Using stored access token", system.AccountFields(stored.Name, stored.Hash)...)
		metrics.TokenCacheHits.WithLabelValues(a.Name()).Inc()
		return stored, nil
	}

	var tokens account.Tokens
	if !primaryOnly && stored != nil && stored.RefreshValid(now) {
		tokens, err = a.refresh(ctx, stored)
		if errors.Is(err, autherr.ErrInvalidGrant) {
			// The refresh token was revoked; forget the account and fall
			// back to the primary grant if there are credentials for it.
			a.evict(ctx, stored, "invalid_grant")
			stored = nil
			tokens, err = a.primaryGrant(ctx, params, err)
		}
	} else {
		tokens, err = a.primaryGrant(ctx, params, nil)
	}
	if err != nil {
		return nil, err
	}

	acct, err := a.buildAccount(ctx, stored, tokens)
	if err != nil {
		return nil, err
	}
	if a.store != nil {
		if err := a.store.Set(ctx, acct); err != nil {
			return nil, err
		}
	}
	return acct, nil
}

func (a *Authenticator) lookup(ctx context.Context) (*account.Account, error) {
	if a.store == nil {
		return nil, nil
	}
	stored, err := a.store.Get(ctx, tokenstore.Selector{Hash: a.hash})
	if err != nil {
		return nil, err
	}
	if stored != nil && a.profile != "" && stored.Profile != "" && stored.Profile != a.profile {
		return nil, nil
	}
	return stored, nil
}

func (a *Authenticator) evict(ctx context.Context, acct *account.Account, reason string) {
	metrics.AccountsEvicted.WithLabelValues(reason).Inc()
	if a.store == nil {
		return
	}
	if _, err := a.store.Delete(ctx, []string{acct.Hash}, acct.Auth.BaseURL); err != nil {
		a.log.Warnw("Failed to remove account from token store", append(system.AccountFields(acct.Name, acct.Hash), "error", err)...)
	}
}

func (a *Authenticator) refresh(ctx context.Context, stored *account.Account) (account.Tokens, error) {
	form, err := a.strategy.RefreshTokenParams(ctx, a.cfg.endpoints[EndpointToken])
	if err != nil {
		return nil, err
	}
	form["grant_type"] = GrantRefreshToken
	form["refresh_token"] = stored.Auth.Tokens.RefreshToken()
	a.log.Debugw("Refreshing access token", system.AccountFields(stored.Name, stored.Hash)...)
	return a.requestToken(ctx, form)
}

// primaryGrant runs the strategy's grant. cause is returned instead when the
// strategy cannot authenticate on its own after a failed refresh.
func (a *Authenticator) primaryGrant(ctx context.Context, params LoginParams, cause error) (account.Tokens, error) {
	form, err := a.strategy.TokenParams(ctx, a.cfg.endpoints[EndpointToken], params)
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		return nil, err
	}
	return a.requestToken(ctx, form)
}

// requestToken posts a form to the token endpoint. Transport errors are
// returned unchanged.
func (a *Authenticator) requestToken(ctx context.Context, form map[string]string) (account.Tokens, error) {
	form["client_id"] = a.cfg.clientID
	form["scope"] = a.cfg.scope
	grant := form["grant_type"]

	a.log.Debugw("Requesting token", "grantType", grant, "baseUrl", a.cfg.baseURL, "clientId", a.cfg.clientID)
	start := time.Now()
	resp, err := a.http.R().SetContext(ctx).SetFormData(form).Post(a.cfg.endpoints[EndpointToken])
	metrics.TokenRequestDuration.WithLabelValues(grant).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TokenRequests.WithLabelValues(a.Name(), grant, "unreachable").Inc()
		return nil, err
	}

	var body map[string]any
	decodeErr := json.Unmarshal(resp.Body(), &body)
	if resp.IsError() {
		errCode, _ := body["error"].(string)
		desc, _ := body["error_description"].(string)
		if errCode == "invalid_grant" {
			metrics.TokenRequests.WithLabelValues(a.Name(), grant, "invalid_grant").Inc()
			return nil, autherr.InvalidGrant(resp.StatusCode(), desc)
		}
		metrics.TokenRequests.WithLabelValues(a.Name(), grant, "failed").Inc()
		msg := fmt.Sprintf("authentication failed: %s", resp.Status())
		if desc != "" {
			msg += ": " + desc
		}
		return nil, &autherr.Error{Code: autherr.CodeAuthFailed, Message: msg, Status: resp.StatusCode()}
	}
	if decodeErr != nil {
		metrics.TokenRequests.WithLabelValues(a.Name(), grant, "failed").Inc()
		return nil, autherr.Wrap(autherr.CodeAuthFailed, decodeErr, "invalid server response")
	}
	if access, _ := body["access_token"].(string); access == "" {
		metrics.TokenRequests.WithLabelValues(a.Name(), grant, "failed").Inc()
		return nil, autherr.AuthFailed("invalid server response: missing access token")
	}
	metrics.TokenRequests.WithLabelValues(a.Name(), grant, "success").Inc()
	return account.Tokens(body), nil
}

// buildAccount turns a token response into an account. A refresh updates
// the stored account in place and keeps the state layered on top of it.
func (a *Authenticator) buildAccount(ctx context.Context, stored *account.Account, tokens account.Tokens) (*account.Account, error) {
	id, err := a.decodeIdentity(ctx, tokens)
	if err != nil {
		return nil, err
	}

	acct := stored
	if acct == nil {
		acct = &account.Account{Name: a.hash}
	}
	acct.Hash = a.hash
	if acct.Name == "" {
		acct.Name = a.hash
	}
	if a.profile != "" {
		acct.Profile = a.profile
	}

	now := a.now()
	acct.Auth = account.Auth{
		Authenticator:  a.Name(),
		BaseURL:        a.cfg.baseURL,
		ClientID:       a.cfg.clientID,
		Realm:          a.cfg.realm,
		Env:            a.cfg.env,
		IDP:            id.idp,
		Tokens:         tokens,
		ServiceAccount: a.strategy.ServiceAccount(),
		Expires:        computeExpires(now, tokens),
	}
	if a.cfg.overridden {
		acct.Auth.Endpoints = copyEndpoints(a.cfg.endpoints)
	}
	if id.guid != "" {
		acct.User.GUID = id.guid
	}
	if id.orgID != "" && (acct.Org == nil || acct.Org.ID != id.orgID) {
		acct.Org = &account.Org{ID: id.orgID}
	}

	if err := a.GetInfo(ctx, acct); err != nil {
		a.log.Debugw("Failed to fetch user info", append(system.AccountFields(acct.Name, acct.Hash), "error", err)...)
		metrics.UserInfoFailures.Inc()
	}

	if a.persistSecrets {
		secrets := a.strategy.AuthenticatorParams()
		acct.Auth.ClientSecret = secrets.ClientSecret
		acct.Auth.Secret = secrets.Secret
	}
	a.log.Debugw("Authenticated", append(system.AccountFields(acct.Name, acct.Hash), "authenticator", a.Name(), "baseUrl", a.cfg.baseURL)...)
	return acct, nil
}

// computeExpires derives epoch millisecond expiries from the lifetimes in a
// token response. The refresh expiry is only set when the response carries
// both a refresh token and its lifetime.
func computeExpires(now time.Time, tokens account.Tokens) account.Expires {
	exp := account.Expires{Access: account.Millis(now)}
	if in, ok := number(tokens["expires_in"]); ok {
		exp.Access = account.Millis(now) + int64(in*1000)
	}
	if tokens.RefreshToken() != "" {
		if in, ok := number(tokens["refresh_expires_in"]); ok {
			refresh := account.Millis(now) + int64(in*1000)
			exp.Refresh = &refresh
		}
	}
	return exp
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func copyEndpoints(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
