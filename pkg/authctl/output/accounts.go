package output

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/telekom/authctl/pkg/account"
)

const (
	StatusActive      = "active"
	StatusRefreshable = "refreshable"
	StatusExpired     = "expired"
)

// AccountSummary is the printable view of an account. Token material and
// secrets are never part of it.
type AccountSummary struct {
	Name           string     `json:"name" yaml:"name"`
	Hash           string     `json:"hash" yaml:"hash"`
	Authenticator  string     `json:"authenticator" yaml:"authenticator"`
	BaseURL        string     `json:"baseUrl" yaml:"baseUrl"`
	ClientID       string     `json:"clientId" yaml:"clientId"`
	Realm          string     `json:"realm" yaml:"realm"`
	Env            string     `json:"env,omitempty" yaml:"env,omitempty"`
	Profile        string     `json:"profile,omitempty" yaml:"profile,omitempty"`
	ServiceAccount bool       `json:"serviceAccount" yaml:"serviceAccount"`
	User           string     `json:"user,omitempty" yaml:"user,omitempty"`
	Email          string     `json:"email,omitempty" yaml:"email,omitempty"`
	Org            string     `json:"org,omitempty" yaml:"org,omitempty"`
	AccessExpires  time.Time  `json:"accessExpires" yaml:"accessExpires"`
	RefreshExpires *time.Time `json:"refreshExpires,omitempty" yaml:"refreshExpires,omitempty"`
	Status         string     `json:"status" yaml:"status"`
}

// Summarize builds the printable view of acct as of now.
func Summarize(acct *account.Account, now time.Time) AccountSummary {
	s := AccountSummary{
		Name:           acct.Name,
		Hash:           acct.Hash,
		Authenticator:  acct.Auth.Authenticator,
		BaseURL:        acct.Auth.BaseURL,
		ClientID:       acct.Auth.ClientID,
		Realm:          acct.Auth.Realm,
		Env:            acct.Auth.Env,
		Profile:        acct.Profile,
		ServiceAccount: acct.Auth.ServiceAccount,
		User:           acct.User.GUID,
		Email:          acct.User.Email,
		Status:         accountStatus(acct, now),
	}
	if acct.Auth.Expires.Access > 0 {
		s.AccessExpires = time.UnixMilli(acct.Auth.Expires.Access).UTC()
	}
	if acct.Org != nil {
		s.Org = acct.Org.ID
		if acct.Org.Name != "" {
			s.Org = acct.Org.Name
		}
	}
	if r := acct.Auth.Expires.Refresh; r != nil {
		t := time.UnixMilli(*r).UTC()
		s.RefreshExpires = &t
	}
	return s
}

// SummarizeAll summarizes every account in order.
func SummarizeAll(accts []*account.Account, now time.Time) []AccountSummary {
	out := make([]AccountSummary, 0, len(accts))
	for _, a := range accts {
		out = append(out, Summarize(a, now))
	}
	return out
}

func accountStatus(acct *account.Account, now time.Time) string {
	switch {
	case acct.AccessValid(now, 0):
		return StatusActive
	case acct.RefreshValid(now) || acct.CanReauthenticate():
		return StatusRefreshable
	default:
		return StatusExpired
	}
}

func WriteAccountTable(w io.Writer, accounts []AccountSummary) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tAUTHENTICATOR\tCLIENT_ID\tSTATUS\tEXPIRES")
	for _, a := range accounts {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Name, a.Authenticator, a.ClientID, a.Status, formatTime(a.AccessExpires))
	}
	_ = tw.Flush()
}

func WriteAccountTableWide(w io.Writer, accounts []AccountSummary) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tAUTHENTICATOR\tCLIENT_ID\tBASE_URL\tREALM\tUSER\tORG\tSTATUS\tEXPIRES\tREFRESH_EXPIRES")
	for _, a := range accounts {
		refresh := "-"
		if a.RefreshExpires != nil {
			refresh = formatTime(*a.RefreshExpires)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Name, a.Authenticator, a.ClientID, a.BaseURL, a.Realm, dash(a.User), dash(a.Org), a.Status,
			formatTime(a.AccessExpires), refresh)
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
