package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/crypto"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
)

const (
	// DirName is the directory below the home directory holding token files.
	DirName = "axway-cli"
	// FileName is the current encrypted token file.
	FileName = ".tokenstore.v2"
	// SecureFileName is the token file encrypted with the vault key.
	SecureFileName = ".tokenstore.secure.v2"
	// LegacyFileName is the older schema mirror kept for legacy clients.
	LegacyFileName = ".tokenstore"
)

// fileBackend stores the collection as one encrypted JSON document.
type fileBackend struct {
	kind       Type
	path       string
	legacyPath string
	keys       crypto.KeyProvider
	log        *zap.SugaredLogger
}

func (f *fileBackend) load(ctx context.Context) ([]*account.Account, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file %s: %w", f.path, err)
	}
	key, err := f.keys.Key(ctx)
	if err != nil {
		return nil, err
	}
	plain, err := crypto.Decrypt(key, data)
	var entries []*account.Account
	if err == nil {
		err = json.Unmarshal(plain, &entries)
	}
	if err != nil {
		// A corrupt file or one written with a different key cannot be
		// recovered; start over instead of failing every command.
		f.log.Warnw("Token file could not be decrypted, resetting it", "path", f.path, "error", err)
		metrics.StoreResets.WithLabelValues(string(f.kind)).Inc()
		if rmErr := os.Remove(f.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove unreadable token file %s: %w", f.path, rmErr)
		}
		return nil, nil
	}
	return entries, nil
}

func (f *fileBackend) save(ctx context.Context, entries []*account.Account) error {
	if entries == nil {
		entries = []*account.Account{}
	}
	key, err := f.keys.Key(ctx)
	if err != nil {
		return err
	}
	plain, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}
	enc, err := crypto.Encrypt(key, plain)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, enc); err != nil {
		return err
	}
	if f.legacyPath == "" {
		return nil
	}
	if err := f.saveLegacy(key, entries); err != nil {
		f.log.Warnw("Failed to update legacy token file", "path", f.legacyPath, "error", err)
	}
	return nil
}

func (f *fileBackend) saveLegacy(key []byte, entries []*account.Account) error {
	records := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rec, err := toLegacy(e)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	plain, err := json.Marshal(records)
	if err != nil {
		return err
	}
	enc, err := crypto.Encrypt(key, plain)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.legacyPath, enc)
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace token file %s: %w", path, err)
	}
	return nil
}

// FileStore keeps accounts in an encrypted file below the home directory and
// mirrors them into the legacy schema file.
type FileStore struct {
	*base
	path string
}

// FileOptions configures a FileStore.
type FileOptions struct {
	HomeDir string
	// Key overrides the built-in file key.
	Key    crypto.KeyProvider
	Logger *zap.SugaredLogger
}

func NewFileStore(opts FileOptions) (*FileStore, error) {
	if opts.HomeDir == "" {
		return nil, autherr.MissingRequiredParameter("token store requires a home directory")
	}
	keys := opts.Key
	if keys == nil {
		keys = crypto.DefaultFileKey()
	}
	log := system.OrNop(opts.Logger)
	b := &fileBackend{
		kind:       TypeFile,
		path:       filepath.Join(opts.HomeDir, DirName, FileName),
		legacyPath: filepath.Join(opts.HomeDir, LegacyFileName),
		keys:       keys,
		log:        log,
	}
	return &FileStore{base: newBase(TypeFile, b, log), path: b.path}, nil
}

// Path returns the location of the token file.
func (s *FileStore) Path() string {
	return s.path
}
