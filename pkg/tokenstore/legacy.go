package tokenstore

import (
	"encoding/json"
	"fmt"

	"github.com/telekom/authctl/pkg/account"
)

// toLegacy converts an account into the flat record older clients read: the
// auth fields sit at the top level and organization ids are keyed org_id.
func toLegacy(a *account.Account) (map[string]any, error) {
	data, err := json.Marshal(a.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to convert account %s: %w", a.Hash, err)
	}
	rec := map[string]any{}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to convert account %s: %w", a.Hash, err)
	}
	rec["name"] = a.Name
	rec["hash"] = a.Hash
	rec["user"] = a.User
	if a.Org != nil {
		rec["org"] = legacyOrg(*a.Org)
	}
	if len(a.Orgs) > 0 {
		orgs := make([]map[string]any, 0, len(a.Orgs))
		for _, o := range a.Orgs {
			orgs = append(orgs, legacyOrg(o))
		}
		rec["orgs"] = orgs
	}
	if a.Profile != "" {
		rec["profile"] = a.Profile
	}
	return rec, nil
}

func legacyOrg(o account.Org) map[string]any {
	m := map[string]any{"org_id": o.ID}
	if o.GUID != "" {
		m["guid"] = o.GUID
	}
	if o.Name != "" {
		m["name"] = o.Name
	}
	return m
}
