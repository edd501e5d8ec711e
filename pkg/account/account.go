// Package account defines the Account record: the unit the token stores
// persist and the value every successful authentication returns.
package account

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Account is an authenticated identity together with the configuration of
// the authenticator that produced it.
type Account struct {
	Name    string          `json:"name"`
	Hash    string          `json:"hash"`
	Auth    Auth            `json:"auth"`
	User    User            `json:"user"`
	Org     *Org            `json:"org,omitempty"`
	Orgs    []Org           `json:"orgs,omitempty"`
	Team    json.RawMessage `json:"team,omitempty"`
	Profile string          `json:"profile,omitempty"`
}

// Auth holds the authenticator configuration and the token material.
// ClientSecret and Secret are only populated when secrets are persisted.
type Auth struct {
	Authenticator  string            `json:"authenticator"`
	BaseURL        string            `json:"baseUrl"`
	ClientID       string            `json:"clientId"`
	Realm          string            `json:"realm"`
	Env            string            `json:"env,omitempty"`
	IDP            string            `json:"idp,omitempty"`
	Expires        Expires           `json:"expires"`
	Tokens         Tokens            `json:"tokens"`
	ClientSecret   string            `json:"clientSecret,omitempty"`
	Secret         string            `json:"secret,omitempty"`
	ServiceAccount bool              `json:"serviceAccount,omitempty"`
	Endpoints      map[string]string `json:"endpoints,omitempty"`
}

// Expires holds epoch milliseconds. Refresh is nil when the server did not
// report a refresh token lifetime.
type Expires struct {
	Access  int64  `json:"access"`
	Refresh *int64 `json:"refresh"`
}

type User struct {
	GUID      string `json:"guid"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

type Org struct {
	ID   string `json:"id"`
	GUID string `json:"guid,omitempty"`
	Name string `json:"name,omitempty"`
}

// Tokens is the raw token endpoint response. Only the authenticator
// interprets it.
type Tokens map[string]any

func (t Tokens) str(key string) string {
	if t == nil {
		return ""
	}
	s, _ := t[key].(string)
	return s
}

func (t Tokens) AccessToken() string  { return t.str("access_token") }
func (t Tokens) RefreshToken() string { return t.str("refresh_token") }
func (t Tokens) IDToken() string      { return t.str("id_token") }

func (t Tokens) TokenType() string {
	if tt := t.str("token_type"); tt != "" {
		return tt
	}
	return "Bearer"
}

// Millis converts a time to epoch milliseconds.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Expired reports whether the access token has expired.
func (a *Account) Expired(now time.Time) bool {
	return a.Auth.Expires.Access < Millis(now)
}

// AccessValid reports whether the access token is still good for at least
// threshold.
func (a *Account) AccessValid(now time.Time, threshold time.Duration) bool {
	return a.Auth.Tokens.AccessToken() != "" && a.Auth.Expires.Access > Millis(now.Add(threshold))
}

// RefreshValid reports whether a refresh token exists and has not expired.
// A refresh token without a reported lifetime is assumed valid.
func (a *Account) RefreshValid(now time.Time) bool {
	if a.Auth.Tokens.RefreshToken() == "" {
		return false
	}
	if a.Auth.Expires.Refresh == nil {
		return true
	}
	return *a.Auth.Expires.Refresh > Millis(now)
}

// HasPersistedSecret reports whether the account carries the secret material
// needed to run the primary grant again.
func (a *Account) HasPersistedSecret() bool {
	return a.Auth.ClientSecret != "" || a.Auth.Secret != ""
}

// CanReauthenticate reports whether the primary grant can run again without
// user interaction. Interactive logins need a fresh authorization code.
func (a *Account) CanReauthenticate() bool {
	if !a.HasPersistedSecret() {
		return false
	}
	return a.Auth.ServiceAccount || a.Auth.Authenticator == "SignedJWT"
}

// Purgeable reports whether the access and refresh windows have both
// elapsed. A missing refresh window counts as elapsed.
func (a *Account) Purgeable(now time.Time) bool {
	if !a.Expired(now) {
		return false
	}
	r := a.Auth.Expires.Refresh
	return r == nil || *r < Millis(now)
}

// Token returns an oauth2 view of the stored tokens.
func (a *Account) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  a.Auth.Tokens.AccessToken(),
		RefreshToken: a.Auth.Tokens.RefreshToken(),
		TokenType:    a.Auth.Tokens.TokenType(),
		Expiry:       time.UnixMilli(a.Auth.Expires.Access),
	}
	if id := a.Auth.Tokens.IDToken(); id != "" {
		tok = tok.WithExtra(map[string]any{"id_token": id})
	}
	return tok
}

// Clone returns a deep copy.
func (a *Account) Clone() (*Account, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to copy account %s: %w", a.Hash, err)
	}
	var out Account
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to copy account %s: %w", a.Hash, err)
	}
	return &out, nil
}
