package authenticator

import (
	"strings"

	"golang.org/x/oauth2"
)

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}

// OAuth2Config describes the client for golang.org/x/oauth2.
func (a *Authenticator) OAuth2Config() *oauth2.Config {
	redirect := DefaultRedirectURI
	if cs, ok := a.strategy.(*ClientSecret); ok {
		redirect = cs.redirectURI
	}
	return &oauth2.Config{
		ClientID: a.cfg.clientID,
		Endpoint: oauth2.Endpoint{
			AuthURL:   a.cfg.endpoints[EndpointAuth],
			TokenURL:  a.cfg.endpoints[EndpointToken],
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: redirect,
		Scopes:      strings.Fields(a.cfg.scope),
	}
}

// AuthorizationURL returns the URL the browser collaborator opens for an
// authorization_code login, protected with a PKCE S256 challenge derived
// from verifier. The verifier is passed to Login together with the code.
func (a *Authenticator) AuthorizationURL(state, verifier string) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if a.cfg.accessType == DefaultAccessType {
		opts = append(opts, oauth2.AccessTypeOffline)
	} else {
		opts = append(opts, oauth2.SetAuthURLParam("access_type", a.cfg.accessType))
	}
	if a.cfg.responseType != DefaultResponseType {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", a.cfg.responseType))
	}
	return a.OAuth2Config().AuthCodeURL(state, opts...)
}
