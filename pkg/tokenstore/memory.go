package tokenstore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/account"
)

// memoryBackend keeps the serialized collection so callers never share
// entries with the store.
type memoryBackend struct {
	data []byte
}

func (m *memoryBackend) load(context.Context) ([]*account.Account, error) {
	if len(m.data) == 0 {
		return nil, nil
	}
	var entries []*account.Account
	if err := json.Unmarshal(m.data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode in-memory token store: %w", err)
	}
	return entries, nil
}

func (m *memoryBackend) save(_ context.Context, entries []*account.Account) error {
	if len(entries) == 0 {
		m.data = nil
		return nil
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode in-memory token store: %w", err)
	}
	m.data = data
	return nil
}

// MemoryStore keeps accounts for the lifetime of the process.
type MemoryStore struct {
	*base
}

func NewMemoryStore(log *zap.SugaredLogger) *MemoryStore {
	return &MemoryStore{base: newBase(TypeMemory, &memoryBackend{}, log)}
}
