package authenticator

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/environment"
	"github.com/telekom/authctl/pkg/tokenstore"
)

// Endpoint names accepted in Options.Endpoints.
const (
	EndpointAuth      = "auth"
	EndpointCerts     = "certs"
	EndpointLogout    = "logout"
	EndpointToken     = "token"
	EndpointUserinfo  = "userinfo"
	EndpointWellKnown = "wellKnown"
)

var endpointNames = []string{EndpointAuth, EndpointCerts, EndpointLogout, EndpointToken, EndpointUserinfo, EndpointWellKnown}

const (
	DefaultAccessType   = "offline"
	DefaultResponseType = "code"
	DefaultScope        = "openid"
	DefaultTimeout      = 30 * time.Second
)

// Options configures an Authenticator.
type Options struct {
	// BaseURL of the authorization server. Resolved from Env when empty.
	BaseURL string
	Env     string
	// Realm defaults to the environment's realm.
	Realm    string
	ClientID string

	AccessType   string
	ResponseType string
	Scope        string

	// Endpoints overrides individual endpoint URLs.
	Endpoints map[string]string

	// TokenRefreshThreshold is how long before expiry a stored access token
	// is treated as expired.
	TokenRefreshThreshold time.Duration
	// PersistSecrets copies the credentials onto stored accounts so the
	// primary grant can run again once the refresh token is gone.
	PersistSecrets bool
	// VerifyTokens checks ID token signatures against the certs endpoint.
	VerifyTokens bool

	Store   tokenstore.Store
	Profile string

	// Timeout bounds every request. Defaults to DefaultTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// config is the validated form of Options.
type config struct {
	baseURL      string
	env          string
	realm        string
	clientID     string
	accessType   string
	responseType string
	scope        string
	endpoints    map[string]string
	overridden   bool
	threshold    time.Duration
	timeout      time.Duration
}

func (o Options) validate() (*config, error) {
	return o.resolve(true)
}

// resolve applies defaults and validates. Discovery needs no client, so the
// client id check is optional.
func (o Options) resolve(requireClient bool) (*config, error) {
	cfg := &config{
		baseURL:      strings.TrimRight(o.BaseURL, "/"),
		realm:        o.Realm,
		clientID:     o.ClientID,
		accessType:   valueOr(o.AccessType, DefaultAccessType),
		responseType: valueOr(o.ResponseType, DefaultResponseType),
		scope:        valueOr(o.Scope, DefaultScope),
		threshold:    o.TokenRefreshThreshold,
		timeout:      o.Timeout,
	}
	if cfg.timeout <= 0 {
		cfg.timeout = DefaultTimeout
	}
	if cfg.threshold < 0 {
		return nil, autherr.InvalidValue("token refresh threshold must not be negative")
	}

	if o.Env != "" {
		env, err := environment.Resolve(o.Env)
		if err != nil {
			return nil, err
		}
		cfg.env = env.Name
		if cfg.baseURL == "" {
			cfg.baseURL = env.BaseURL
		}
		if cfg.realm == "" {
			cfg.realm = env.Realm
		}
	}
	if cfg.baseURL == "" {
		return nil, autherr.MissingRequiredParameter("base URL is required, either directly or through an environment")
	}

	if requireClient && strings.TrimSpace(cfg.clientID) == "" {
		return nil, autherr.InvalidArgument("client id is required")
	}
	if strings.TrimSpace(cfg.realm) == "" {
		return nil, autherr.InvalidArgument("realm is required")
	}

	cfg.endpoints = defaultEndpoints(cfg.baseURL, cfg.realm)
	keys := make([]string, 0, len(o.Endpoints))
	for name := range o.Endpoints {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	for _, name := range keys {
		if _, ok := cfg.endpoints[name]; !ok {
			return nil, autherr.InvalidValue("invalid endpoint %q, expected one of: %s", name, strings.Join(endpointNames, ", "))
		}
		if url := o.Endpoints[name]; url != "" && url != cfg.endpoints[name] {
			cfg.endpoints[name] = url
			cfg.overridden = true
		}
	}
	return cfg, nil
}

// defaultEndpoints returns the Keycloak endpoint layout for a realm.
func defaultEndpoints(baseURL, realm string) map[string]string {
	realmURL := fmt.Sprintf("%s/auth/realms/%s", baseURL, realm)
	oidcURL := realmURL + "/protocol/openid-connect"
	return map[string]string{
		EndpointAuth:      oidcURL + "/auth",
		EndpointCerts:     oidcURL + "/certs",
		EndpointLogout:    oidcURL + "/logout",
		EndpointToken:     oidcURL + "/token",
		EndpointUserinfo:  oidcURL + "/userinfo",
		EndpointWellKnown: realmURL + "/.well-known/openid-configuration",
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
