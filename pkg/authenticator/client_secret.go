package authenticator

import (
	"context"

	"github.com/telekom/authctl/pkg/autherr"
)

// DefaultRedirectURI is the local callback the browser collaborator listens
// on during an authorization_code login.
const DefaultRedirectURI = "http://127.0.0.1:3000/callback"

// ClientSecret authenticates with a shared secret sent as client_secret.
type ClientSecret struct {
	secret         string
	serviceAccount bool
	redirectURI    string
}

func newClientSecret(c ClientSecretCredentials) (*ClientSecret, error) {
	if c.ClientSecret == "" {
		return nil, autherr.InvalidArgument("client secret is required")
	}
	return &ClientSecret{
		secret:         c.ClientSecret,
		serviceAccount: c.ServiceAccount,
		redirectURI:    valueOr(c.RedirectURI, DefaultRedirectURI),
	}, nil
}

func (c *ClientSecret) Name() string { return "ClientSecret" }

func (c *ClientSecret) ServiceAccount() bool { return c.serviceAccount }

func (c *ClientSecret) grantType() string {
	if c.serviceAccount {
		return GrantClientCredentials
	}
	return GrantAuthorizationCode
}

func (c *ClientSecret) HashParams() map[string]any {
	return map[string]any{"grantType": c.grantType()}
}

func (c *ClientSecret) TokenParams(_ context.Context, _ string, params LoginParams) (map[string]string, error) {
	form := map[string]string{
		"grant_type":    c.grantType(),
		"client_secret": c.secret,
	}
	if c.serviceAccount {
		return form, nil
	}
	if params.Code == "" {
		return nil, autherr.InvalidArgument("authorization code is required to log in with %s", GrantAuthorizationCode)
	}
	form["code"] = params.Code
	form["redirect_uri"] = valueOr(params.RedirectURI, c.redirectURI)
	if params.CodeVerifier != "" {
		form["code_verifier"] = params.CodeVerifier
	}
	return form, nil
}

func (c *ClientSecret) RefreshTokenParams(context.Context, string) (map[string]string, error) {
	return map[string]string{"client_secret": c.secret}, nil
}

func (c *ClientSecret) AuthenticatorParams() SecretMaterial {
	return SecretMaterial{ClientSecret: c.secret}
}
