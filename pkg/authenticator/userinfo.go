package authenticator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/telekom/authctl/pkg/account"
)

// GetInfo enriches acct.User from the userinfo endpoint. Callers treat
// failures as non-fatal.
func (a *Authenticator) GetInfo(ctx context.Context, acct *account.Account) error {
	token := acct.Auth.Tokens.AccessToken()
	if token == "" {
		return fmt.Errorf("account %s has no access token", acct.Hash)
	}
	info, err := a.userinfo(ctx, token)
	if err != nil {
		return err
	}
	if guid := firstString(info, "guid", "sub"); guid != "" {
		acct.User.GUID = guid
	}
	if email := firstString(info, "email"); email != "" {
		acct.User.Email = email
	}
	if first := firstString(info, "given_name", "firstname"); first != "" {
		acct.User.FirstName = first
	}
	if last := firstString(info, "family_name", "lastname"); last != "" {
		acct.User.LastName = last
	}
	return nil
}

func (a *Authenticator) userinfo(ctx context.Context, token string) (map[string]any, error) {
	if a.keycloak != nil {
		return a.keycloak.GetRawUserInfo(ctx, token, a.cfg.realm)
	}
	resp, err := a.http.R().SetContext(ctx).SetAuthToken(token).Get(a.cfg.endpoints[EndpointUserinfo])
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("userinfo request failed: %s", resp.Status())
	}
	var info map[string]any
	if err := json.Unmarshal(resp.Body(), &info); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return info, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
