package authenticator

import (
	"context"
	"strconv"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
)

type identity struct {
	guid  string
	idp   string
	orgID string
}

// decodeIdentity reads the identity claims from the ID token, or from the
// access token when the server did not issue one.
func (a *Authenticator) decodeIdentity(ctx context.Context, tokens account.Tokens) (*identity, error) {
	raw := tokens.IDToken()
	if raw == "" {
		raw = tokens.AccessToken()
	}
	claims := jwt.MapClaims{}
	var err error
	if a.verifyTokens {
		err = a.verifyToken(ctx, raw, claims)
	} else {
		_, _, err = jwt.NewParser().ParseUnverified(raw, claims)
	}
	if err != nil {
		return nil, autherr.Wrap(autherr.CodeAuthFailed, err, "invalid server response")
	}
	return &identity{
		guid:  claimString(claims, "guid", "sub"),
		idp:   claimString(claims, "identity_provider", "idp"),
		orgID: claimString(claims, "org_guid", "orgId"),
	}, nil
}

// verifyToken checks the token signature against the realm's JWKS.
func (a *Authenticator) verifyToken(ctx context.Context, raw string, claims jwt.MapClaims) error {
	jwks, err := keyfunc.Get(a.cfg.endpoints[EndpointCerts], keyfunc.Options{
		Ctx:            ctx,
		Client:         a.http.GetClient(),
		RefreshTimeout: a.cfg.timeout,
	})
	if err != nil {
		return err
	}
	defer jwks.EndBackground()
	_, err = jwt.ParseWithClaims(raw, claims, jwks.Keyfunc)
	return err
}

// claimString returns the first non-empty claim among keys. Numeric claims
// are formatted without exponent.
func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		switch v := claims[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
