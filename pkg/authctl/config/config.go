// Package config reads and writes the authctl configuration file: named
// login profiles plus settings for the token store and output.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/authctl/pkg/authenticator"
	"github.com/telekom/authctl/pkg/tokenstore"
)

const (
	VersionV1 = "v1"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	// TokenStoreType is auto, secure, file or memory.
	TokenStoreType string `yaml:"token-store-type,omitempty"`
	// TokenRefreshThreshold in seconds.
	TokenRefreshThreshold int    `yaml:"token-refresh-threshold,omitempty"`
	PersistSecrets        bool   `yaml:"persist-secrets,omitempty"`
	VerifyTokens          bool   `yaml:"verify-tokens,omitempty"`
	HomeDir               string `yaml:"home-dir,omitempty"`
	RequestTimeout        string `yaml:"request-timeout,omitempty"`
}

// Profile describes one service account login.
type Profile struct {
	Name     string `yaml:"name"`
	BaseURL  string `yaml:"base-url,omitempty"`
	Env      string `yaml:"env,omitempty"`
	Realm    string `yaml:"realm,omitempty"`
	ClientID string `yaml:"client-id"`

	ClientSecret     string `yaml:"client-secret,omitempty"`
	ClientSecretEnv  string `yaml:"client-secret-env,omitempty"`
	ClientSecretFile string `yaml:"client-secret-file,omitempty"`
	PrivateKeyFile   string `yaml:"private-key-file,omitempty"`
	ServiceAccount   bool   `yaml:"service-account,omitempty"`

	Endpoints map[string]string `yaml:"endpoints,omitempty"`
	Scope     string            `yaml:"scope,omitempty"`
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat:   "table",
			TokenStoreType: string(tokenstore.TypeAuto),
		},
	}
}

// Load reads the config at path. A missing file yields the default config
// so that every command also works from flags alone.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

// SetProfile adds p or replaces the profile with the same name.
func (c *Config) SetProfile(p Profile) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == p.Name {
			c.Profiles[i] = p
			return
		}
	}
	c.Profiles = append(c.Profiles, p)
}

// DeleteProfile removes the named profile and reports whether it existed.
func (c *Config) DeleteProfile(name string) bool {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
			if c.CurrentProfile == name {
				c.CurrentProfile = ""
			}
			return true
		}
	}
	return false
}

func (c *Config) CurrentProfileOrDefault() string {
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].Name
	}
	return ""
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if _, err := tokenstore.ParseType(c.Settings.TokenStoreType); err != nil {
		return err
	}
	if c.Settings.TokenRefreshThreshold < 0 {
		return errors.New("token refresh threshold cannot be negative")
	}
	if _, err := c.Settings.Timeout(); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, p := range c.Profiles {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("profile name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile %s", p.Name)
		}
		seen[p.Name] = true
		if strings.TrimSpace(p.ClientID) == "" {
			return fmt.Errorf("profile %s client-id is required", p.Name)
		}
		if p.PrivateKeyFile != "" && (p.ClientSecret != "" || p.ClientSecretEnv != "" || p.ClientSecretFile != "") {
			return fmt.Errorf("profile %s cannot set both a private key and a client secret", p.Name)
		}
	}
	if c.CurrentProfile != "" && !seen[c.CurrentProfile] {
		return fmt.Errorf("current profile %s is not defined", c.CurrentProfile)
	}
	return nil
}

// RefreshThreshold returns the token refresh threshold as a duration.
func (s Settings) RefreshThreshold() time.Duration {
	return time.Duration(s.TokenRefreshThreshold) * time.Second
}

// Timeout parses RequestTimeout. Zero means the authenticator default.
func (s Settings) Timeout() (time.Duration, error) {
	if s.RequestTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid request-timeout %q: %w", s.RequestTimeout, err)
	}
	return d, nil
}

// Credentials resolves the secret material of p. A private key selects the
// signed JWT strategy, anything else the client secret strategy.
func (p Profile) Credentials() (authenticator.Credentials, error) {
	if p.PrivateKeyFile != "" {
		return authenticator.SignedJWTCredentials{SecretFile: p.PrivateKeyFile}, nil
	}
	secret, err := ResolveClientSecret(p.ClientSecret, p.ClientSecretEnv, p.ClientSecretFile)
	if err != nil {
		return nil, err
	}
	return authenticator.ClientSecretCredentials{ClientSecret: secret, ServiceAccount: p.ServiceAccount}, nil
}

// ResolveClientSecret returns the first configured source of a client
// secret: the literal value, an environment variable or a file.
func ResolveClientSecret(secret, secretEnv, secretFile string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if secretEnv != "" {
		value := strings.TrimSpace(os.Getenv(secretEnv))
		if value == "" {
			return "", fmt.Errorf("client secret env var not set: %s", secretEnv)
		}
		return value, nil
	}
	if secretFile != "" {
		bytes, err := os.ReadFile(secretFile)
		if err != nil {
			return "", fmt.Errorf("failed to read client secret file: %w", err)
		}
		return strings.TrimSpace(string(bytes)), nil
	}
	return "", nil
}
