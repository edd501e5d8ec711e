package tokenstore

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/autherr"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
)

// Options configures Open.
type Options struct {
	Type    Type
	HomeDir string
	// KeyringService overrides the vault service used by the secure store.
	KeyringService string
	Logger         *zap.SugaredLogger
}

type opener struct {
	kind Type
	open func(ctx context.Context, opts Options) (Store, error)
}

// autoChain is tried in order by TypeAuto.
var autoChain = []opener{
	{kind: TypeSecure, open: func(ctx context.Context, o Options) (Store, error) {
		return NewSecureStore(ctx, SecureStoreOptions{HomeDir: o.HomeDir, Service: o.KeyringService, Logger: o.Logger})
	}},
	{kind: TypeFile, open: func(_ context.Context, o Options) (Store, error) {
		return NewFileStore(FileOptions{HomeDir: o.HomeDir, Logger: o.Logger})
	}},
	{kind: TypeMemory, open: func(_ context.Context, o Options) (Store, error) {
		return NewMemoryStore(o.Logger), nil
	}},
}

// ParseType validates a store type name. Empty means auto.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeAuto, nil
	case TypeAuto, TypeSecure, TypeFile, TypeMemory:
		return t, nil
	default:
		return "", autherr.InvalidValue("invalid token store type %q, expected one of: auto, secure, file, memory", s)
	}
}

// Open returns the requested store. An explicit type fails hard when its
// prerequisites are missing. TypeAuto falls back from secure to file to
// memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	kind := opts.Type
	if kind == "" {
		kind = TypeAuto
	}
	if kind != TypeAuto {
		for _, o := range autoChain {
			if o.kind == kind {
				return o.open(ctx, opts)
			}
		}
		return nil, autherr.InvalidValue("invalid token store type %q", kind)
	}

	log := system.OrNop(opts.Logger)
	var lastErr error
	for _, o := range autoChain {
		store, err := o.open(ctx, opts)
		if err == nil {
			log.Debugw("Token store selected", "store", o.kind)
			return store, nil
		}
		reason, skippable := fallbackReason(err)
		if !skippable {
			return nil, err
		}
		log.Debugw("Token store unavailable, trying next", "store", o.kind, "reason", reason, "error", err)
		metrics.StoreFallbacks.WithLabelValues(string(o.kind), reason).Inc()
		lastErr = err
	}
	return nil, lastErr
}

func fallbackReason(err error) (string, bool) {
	switch {
	case errors.Is(err, autherr.ErrSecureStoreUnavailable):
		return "vault_unavailable", true
	case errors.Is(err, autherr.ErrMissingRequiredParameter):
		return "no_home_dir", true
	default:
		return "", false
	}
}
