// Package cmd implements the authctl command tree.
package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/authctl/pkg/auth"
	"github.com/telekom/authctl/pkg/authctl/config"
	"github.com/telekom/authctl/pkg/metrics"
	"github.com/telekom/authctl/pkg/system"
	"github.com/telekom/authctl/pkg/tokenstore"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// LogWriter receives the zap logs. Defaults to stderr.
	LogWriter  io.Writer
	HTTPClient *http.Client
}

type runtimeState struct {
	configPath         string
	cfg                *config.Config
	profileOverride    string
	outputFormat       string
	templateText       string
	tokenStoreOverride string
	homeDirOverride    string
	metricsFile        string
	verbose            bool
	writer             io.Writer
	logWriter          io.Writer
	httpClient         *http.Client
	log                *zap.SugaredLogger
	auth               *auth.Auth
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		LogWriter:    os.Stderr,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		logWriter:  cfg.LogWriter,
		httpClient: cfg.HTTPClient,
	}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Authenticate service accounts and manage their tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.logWriter == nil {
				rt.logWriter = os.Stderr
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.profileOverride == "" {
				rt.profileOverride = os.Getenv("AUTHCTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("AUTHCTL_OUTPUT")
			}
			if rt.tokenStoreOverride == "" {
				rt.tokenStoreOverride = os.Getenv("AUTHCTL_TOKEN_STORE")
			}
			if rt.homeDirOverride == "" {
				rt.homeDirOverride = os.Getenv("AUTHCTL_HOME_DIR")
			}
			if rt.metricsFile == "" {
				rt.metricsFile = os.Getenv("AUTHCTL_METRICS_FILE")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("AUTHCTL_VERBOSE"), "true")
			}
			rt.log = system.NewLogger(rt.verbose, rt.logWriter)

			// Skip config loading for commands that don't need it
			if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
			if rt.metricsFile == "" {
				return nil
			}
			return metrics.WriteTextfile(rt.metricsFile)
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml, template")
	root.PersistentFlags().StringVar(&rt.templateText, "template", "", "Go template for --output template (sprig functions available)")
	root.PersistentFlags().StringVar(&rt.tokenStoreOverride, "token-store", "", "Token store: auto, secure, file or memory")
	root.PersistentFlags().StringVar(&rt.homeDirOverride, "home-dir", "", "Directory below which token files are kept")
	root.PersistentFlags().StringVar(&rt.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) ResolveProfileName() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	if rt.cfg != nil {
		return rt.cfg.CurrentProfileOrDefault()
	}
	return ""
}

func (rt *runtimeState) OutputFormat() string {
	if rt.outputFormat != "" {
		return rt.outputFormat
	}
	if rt.templateText != "" {
		return "template"
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return rt.cfg.Settings.OutputFormat
	}
	return "table"
}

func (rt *runtimeState) TokenStoreType() string {
	if rt.tokenStoreOverride != "" {
		return rt.tokenStoreOverride
	}
	if rt.cfg != nil {
		return rt.cfg.Settings.TokenStoreType
	}
	return ""
}

func (rt *runtimeState) HomeDir() string {
	if rt.homeDirOverride != "" {
		return rt.homeDirOverride
	}
	if rt.cfg != nil {
		return config.HomeDir(rt.cfg.Settings.HomeDir)
	}
	return config.HomeDir("")
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

// Auth opens the token store on first use and returns the facade built from
// the loaded settings.
func (rt *runtimeState) Auth(ctx context.Context) (*auth.Auth, error) {
	if rt.auth != nil {
		return rt.auth, nil
	}
	if err := rt.EnsureConfigLoaded(); err != nil {
		return nil, err
	}
	storeType, err := tokenstore.ParseType(rt.TokenStoreType())
	if err != nil {
		return nil, err
	}
	timeout, err := rt.cfg.Settings.Timeout()
	if err != nil {
		return nil, err
	}
	log := system.OrNop(rt.log)
	a, err := auth.New(ctx, auth.Options{
		TokenRefreshThreshold: rt.cfg.Settings.RefreshThreshold(),
		PersistSecrets:        rt.cfg.Settings.PersistSecrets,
		VerifyTokens:          rt.cfg.Settings.VerifyTokens,
		Timeout:               timeout,
		TokenStoreType:        storeType,
		HomeDir:               rt.HomeDir(),
		HTTPClient:            rt.httpClient,
		Logger:                log,
	})
	if err != nil {
		return nil, err
	}
	log.Debugw("Token store opened", "store", a.Store().Type())
	rt.auth = a
	return a, nil
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
