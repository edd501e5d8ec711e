package tokenstore

import (
	"time"

	"github.com/telekom/authctl/pkg/account"
)

// The functions below are pure: they never mutate the input slice and leave
// persistence to the caller.

// setEntry inserts acct or replaces the entry with the same hash.
func setEntry(entries []*account.Account, acct *account.Account) []*account.Account {
	out := make([]*account.Account, 0, len(entries)+1)
	replaced := false
	for _, e := range entries {
		if e.Hash == acct.Hash {
			if !replaced {
				out = append(out, acct)
				replaced = true
			}
			continue
		}
		out = append(out, e)
	}
	if !replaced {
		out = append(out, acct)
	}
	return out
}

// deleteEntries removes entries whose name or hash is listed, optionally
// restricted to one base URL.
func deleteEntries(entries []*account.Account, namesOrHashes []string, baseURL string) (kept, removed []*account.Account) {
	match := make(map[string]struct{}, len(namesOrHashes))
	for _, n := range namesOrHashes {
		match[n] = struct{}{}
	}
	for _, e := range entries {
		_, byName := match[e.Name]
		_, byHash := match[e.Hash]
		if (byName || byHash) && matchesBaseURL(e, baseURL) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// clearEntries removes every entry, or every entry for one base URL.
func clearEntries(entries []*account.Account, baseURL string) (kept, removed []*account.Account) {
	for _, e := range entries {
		if matchesBaseURL(e, baseURL) {
			removed = append(removed, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

// purge drops entries whose access and refresh windows have both elapsed.
func purge(entries []*account.Account, now time.Time) (kept, purged []*account.Account) {
	for _, e := range entries {
		if e.Purgeable(now) {
			purged = append(purged, e)
			continue
		}
		kept = append(kept, e)
	}
	return kept, purged
}

func matchesBaseURL(e *account.Account, baseURL string) bool {
	return baseURL == "" || e.Auth.BaseURL == baseURL
}
