// Package tokenstore persists authenticated accounts between CLI
// invocations. Three stores share one contract: an in-memory store, an
// encrypted file store and a secure store whose file key lives in the OS
// credential vault.
package tokenstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
)

// Type selects a token store implementation.
type Type string

const (
	TypeAuto   Type = "auto"
	TypeSecure Type = "secure"
	TypeFile   Type = "file"
	TypeMemory Type = "memory"
)

// Selector identifies one account by name or authenticator hash.
type Selector struct {
	AccountName string
	Hash        string
}

// Store is the token store contract. Get returns nil, nil when nothing
// matches. Delete and Clear return the removed accounts.
type Store interface {
	Type() Type
	List(ctx context.Context) ([]*account.Account, error)
	Get(ctx context.Context, sel Selector) (*account.Account, error)
	Set(ctx context.Context, acct *account.Account) error
	Delete(ctx context.Context, namesOrHashes []string, baseURL string) ([]*account.Account, error)
	Clear(ctx context.Context, baseURL string) ([]*account.Account, error)
}

// backend durably holds the complete entry collection.
type backend interface {
	load(ctx context.Context) ([]*account.Account, error)
	save(ctx context.Context, entries []*account.Account) error
}

// base implements Store on top of a backend. Every mutation reads all
// entries, applies a pure primitive and writes all entries back.
type base struct {
	mu      sync.Mutex
	kind    Type
	backend backend
	log     *zap.SugaredLogger
	now     func() time.Time
}

func newBase(kind Type, b backend, log *zap.SugaredLogger) *base {
	return &base{kind: kind, backend: b, log: system.OrNop(log), now: time.Now}
}

func (s *base) Type() Type {
	return s.kind
}

func (s *base) List(ctx context.Context) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOperations.WithLabelValues(string(s.kind), "list").Inc()

	entries, err := s.loadPurged(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return cloneAll(entries)
}

func (s *base) Get(ctx context.Context, sel Selector) (*account.Account, error) {
	if sel.AccountName == "" && sel.Hash == "" {
		return nil, autherr.InvalidArgument("must specify either the account name or authenticator hash")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOperations.WithLabelValues(string(s.kind), "get").Inc()

	entries, err := s.loadPurged(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if (sel.AccountName != "" && e.Name == sel.AccountName) || (sel.Hash != "" && e.Hash == sel.Hash) {
			return e.Clone()
		}
	}
	return nil, nil
}

func (s *base) Set(ctx context.Context, acct *account.Account) error {
	if acct == nil || acct.Hash == "" {
		return autherr.InvalidArgument("account must have a hash")
	}
	entry, err := acct.Clone()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOperations.WithLabelValues(string(s.kind), "set").Inc()

	entries, err := s.backend.load(ctx)
	if err != nil {
		return err
	}
	if err := s.backend.save(ctx, setEntry(entries, entry)); err != nil {
		return err
	}
	s.log.Debugw("Account stored", append(system.AccountFields(entry.Name, entry.Hash), "store", s.kind)...)
	return nil
}

func (s *base) Delete(ctx context.Context, namesOrHashes []string, baseURL string) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOperations.WithLabelValues(string(s.kind), "delete").Inc()

	entries, err := s.backend.load(ctx)
	if err != nil {
		return nil, err
	}
	kept, removed := deleteEntries(entries, namesOrHashes, baseURL)
	if len(removed) == 0 {
		return nil, nil
	}
	if err := s.backend.save(ctx, kept); err != nil {
		return nil, err
	}
	s.log.Debugw("Accounts deleted", "store", s.kind, "count", len(removed))
	return removed, nil
}

func (s *base) Clear(ctx context.Context, baseURL string) ([]*account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.StoreOperations.WithLabelValues(string(s.kind), "clear").Inc()

	entries, err := s.backend.load(ctx)
	if err != nil {
		return nil, err
	}
	kept, removed := clearEntries(entries, baseURL)
	if err := s.backend.save(ctx, kept); err != nil {
		return nil, err
	}
	return removed, nil
}

// loadPurged loads all entries and writes back the collection when expired
// entries were dropped.
func (s *base) loadPurged(ctx context.Context) ([]*account.Account, error) {
	entries, err := s.backend.load(ctx)
	if err != nil {
		return nil, err
	}
	kept, purged := purge(entries, s.now())
	if len(purged) == 0 {
		return kept, nil
	}
	for _, p := range purged {
		s.log.Debugw("Purging expired account", system.AccountFields(p.Name, p.Hash)...)
	}
	metrics.AccountsEvicted.WithLabelValues("expired").Add(float64(len(purged)))
	if err := s.backend.save(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}

func cloneAll(entries []*account.Account) ([]*account.Account, error) {
	out := make([]*account.Account, 0, len(entries))
	for _, e := range entries {
		c, err := e.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
