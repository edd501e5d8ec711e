package authenticator

import (
	"context"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
)

// Grant types and form values sent to the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	ClientAssertionTypeJWT = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
)

// LoginParams carries the values an interactive login hands back from the
// browser: the authorization code and the PKCE verifier used to request it.
type LoginParams struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
}

// SecretMaterial is what PersistSecrets copies onto a stored account.
type SecretMaterial struct {
	ClientSecret string
	Secret       string
}

// Strategy supplies the grant specific parts of an authenticator.
type Strategy interface {
	// Name is stored as account.auth.authenticator.
	Name() string
	// HashParams are merged into the configuration hash. They must never
	// contain secrets.
	HashParams() map[string]any
	// TokenParams returns the form fields of the primary grant.
	TokenParams(ctx context.Context, tokenURL string, params LoginParams) (map[string]string, error)
	// RefreshTokenParams returns extra form fields for a refresh_token grant.
	RefreshTokenParams(ctx context.Context, tokenURL string) (map[string]string, error)
	// AuthenticatorParams returns the secret material of this strategy.
	AuthenticatorParams() SecretMaterial
	ServiceAccount() bool
}

// Credentials selects the concrete strategy. It is implemented by
// ClientSecretCredentials and SignedJWTCredentials only.
type Credentials interface {
	isCredentials()
}

// ClientSecretCredentials authenticates with a shared client secret.
type ClientSecretCredentials struct {
	ClientSecret string
	// ServiceAccount selects client_credentials instead of
	// authorization_code.
	ServiceAccount bool
	// RedirectURI overrides DefaultRedirectURI for authorization_code.
	RedirectURI string
}

// SignedJWTCredentials authenticates with a client assertion signed by an
// RSA private key, given either as PEM text or as a PEM file path.
type SignedJWTCredentials struct {
	Secret     string
	SecretFile string
}

func (ClientSecretCredentials) isCredentials() {}
func (SignedJWTCredentials) isCredentials()    {}

func newStrategy(creds Credentials, clientID string) (Strategy, error) {
	switch c := creds.(type) {
	case ClientSecretCredentials:
		return newClientSecret(c)
	case *ClientSecretCredentials:
		if c == nil {
			break
		}
		return newClientSecret(*c)
	case SignedJWTCredentials:
		return newSignedJWT(c, clientID)
	case *SignedJWTCredentials:
		if c == nil {
			break
		}
		return newSignedJWT(*c, clientID)
	}
	return nil, autherr.InvalidArgument("credentials are required: a client secret or a private key")
}

// CredentialsFromAccount rebuilds credentials from the secret material
// persisted on acct. It returns nil when nothing was persisted.
func CredentialsFromAccount(acct *account.Account) Credentials {
	switch {
	case acct.Auth.ClientSecret != "":
		return ClientSecretCredentials{ClientSecret: acct.Auth.ClientSecret, ServiceAccount: acct.Auth.ServiceAccount}
	case acct.Auth.Secret != "":
		return SignedJWTCredentials{Secret: acct.Auth.Secret}
	default:
		return nil
	}
}

// storedSession backs an authenticator restored from an account whose
// secrets were not persisted. It can only refresh.
type storedSession struct {
	name           string
	serviceAccount bool
}

func (s *storedSession) Name() string               { return s.name }
func (s *storedSession) HashParams() map[string]any { return nil }
func (s *storedSession) ServiceAccount() bool       { return s.serviceAccount }

func (s *storedSession) TokenParams(context.Context, string, LoginParams) (map[string]string, error) {
	return nil, autherr.AuthFailed("no credentials available to authenticate %s again, please log in", s.name)
}

func (s *storedSession) RefreshTokenParams(context.Context, string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (s *storedSession) AuthenticatorParams() SecretMaterial {
	return SecretMaterial{}
}
