package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"path/filepath"
	"sync"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/crypto"
	"github.com/telekom/authctl/pkg/system"
)

const (
	// DefaultKeyringService is the vault service holding the file key.
	DefaultKeyringService = "authctl"
	keyringUser           = "tokenstore-key"
)

// vaultKey loads the file key from the OS credential vault, generating and
// storing one on first use.
type vaultKey struct {
	service string

	mu  sync.Mutex
	key crypto.StaticKey
}

func (v *vaultKey) Key(context.Context) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		return v.key, nil
	}

	stored, err := keyring.Get(v.service, keyringUser)
	switch {
	case err == nil:
		key, perr := crypto.ParseHexKey(stored)
		if perr != nil {
			return nil, autherr.Wrap(autherr.CodeSecureStoreUnavailable, perr, "stored token key is invalid")
		}
		v.key = key
	case errors.Is(err, keyring.ErrNotFound):
		key := make([]byte, crypto.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, autherr.Wrap(autherr.CodeSecureStoreUnavailable, err, "failed to generate token key")
		}
		if err := keyring.Set(v.service, keyringUser, hex.EncodeToString(key)); err != nil {
			return nil, autherr.Wrap(autherr.CodeSecureStoreUnavailable, err, "failed to store token key in the credential vault")
		}
		v.key = key
	default:
		return nil, autherr.Wrap(autherr.CodeSecureStoreUnavailable, err, "credential vault is unavailable")
	}
	return v.key, nil
}

// SecureStoreOptions configures a SecureStore.
type SecureStoreOptions struct {
	HomeDir string
	// Service overrides the vault service name.
	Service string
	Logger  *zap.SugaredLogger
}

// SecureStore is a file store whose key is held by the OS credential vault.
// It does not write the legacy mirror because legacy clients cannot read the
// vault key.
type SecureStore struct {
	*base
	path string
}

// NewSecureStore fails with ErrSecureStoreUnavailable when the vault cannot
// be reached.
func NewSecureStore(ctx context.Context, opts SecureStoreOptions) (*SecureStore, error) {
	if opts.HomeDir == "" {
		return nil, autherr.MissingRequiredParameter("secure token store requires a home directory")
	}
	service := opts.Service
	if service == "" {
		service = DefaultKeyringService
	}
	keys := &vaultKey{service: service}
	if _, err := keys.Key(ctx); err != nil {
		return nil, err
	}
	log := system.OrNop(opts.Logger)
	b := &fileBackend{
		kind: TypeSecure,
		path: filepath.Join(opts.HomeDir, DirName, SecureFileName),
		keys: keys,
		log:  log,
	}
	return &SecureStore{base: newBase(TypeSecure, b, log), path: b.path}, nil
}

func (s *SecureStore) Path() string {
	return s.path
}
