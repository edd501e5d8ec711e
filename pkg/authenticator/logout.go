package authenticator

import (
	"context"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
)

// Logout ends the server side session of acct by posting its refresh token
// to the logout endpoint. Accounts without a refresh token have no session.
func (a *Authenticator) Logout(ctx context.Context, acct *account.Account) error {
	refresh := acct.Auth.Tokens.RefreshToken()
	if refresh == "" {
		return nil
	}
	secret := a.strategy.AuthenticatorParams().ClientSecret
	if a.keycloak != nil {
		return a.keycloak.Logout(ctx, a.cfg.clientID, secret, a.cfg.realm, refresh)
	}

	form := map[string]string{
		"client_id":     a.cfg.clientID,
		"refresh_token": refresh,
	}
	if secret != "" {
		form["client_secret"] = secret
	}
	resp, err := a.http.R().SetContext(ctx).SetFormData(form).Post(a.cfg.endpoints[EndpointLogout])
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &autherr.Error{Code: autherr.CodeAuthFailed, Message: "logout failed: " + resp.Status(), Status: resp.StatusCode()}
	}
	return nil
}
