// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/authctl/pkg/authenticator"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.CurrentProfile = "ci"
	cfg.Settings.TokenRefreshThreshold = 60
	cfg.Profiles = []Profile{
		{
			Name:            "ci",
			Env:             "staging",
			ClientID:        "ci-bot",
			ClientSecretEnv: "CI_SECRET",
			ServiceAccount:  true,
			Endpoints:       map[string]string{"token": "https://idp.example.com/token"},
		},
	}

	require.NoError(t, Save(path, &cfg))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, loaded.Validate())
	assert.Equal(t, "ci", loaded.CurrentProfile)
	require.Len(t, loaded.Profiles, 1)
	assert.Equal(t, cfg.Profiles[0], loaded.Profiles[0])
	assert.Equal(t, time.Minute, loaded.Settings.RefreshThreshold())
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, VersionV1, cfg.Version)
	assert.Equal(t, "table", cfg.Settings.OutputFormat)
	assert.Equal(t, "auto", cfg.Settings.TokenStoreType)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: [unclosed"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestProfiles(t *testing.T) {
	cfg := DefaultConfig()
	assert.Empty(t, cfg.CurrentProfileOrDefault())

	cfg.SetProfile(Profile{Name: "a", ClientID: "one"})
	cfg.SetProfile(Profile{Name: "b", ClientID: "two"})
	cfg.SetProfile(Profile{Name: "a", ClientID: "three"})
	require.Len(t, cfg.Profiles, 2)
	assert.Equal(t, "a", cfg.CurrentProfileOrDefault())

	p, err := cfg.FindProfile("a")
	require.NoError(t, err)
	assert.Equal(t, "three", p.ClientID)

	_, err = cfg.FindProfile("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not found")

	cfg.CurrentProfile = "b"
	assert.True(t, cfg.DeleteProfile("b"))
	assert.False(t, cfg.DeleteProfile("b"))
	assert.Empty(t, cfg.CurrentProfile)
	assert.Equal(t, "a", cfg.CurrentProfileOrDefault())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing version", mutate: func(c *Config) { c.Version = "" }, wantErr: "version"},
		{name: "bad store type", mutate: func(c *Config) { c.Settings.TokenStoreType = "cloud" }, wantErr: "token store type"},
		{name: "negative threshold", mutate: func(c *Config) { c.Settings.TokenRefreshThreshold = -1 }, wantErr: "negative"},
		{name: "bad timeout", mutate: func(c *Config) { c.Settings.RequestTimeout = "soon" }, wantErr: "request-timeout"},
		{name: "empty profile name", mutate: func(c *Config) {
			c.Profiles = []Profile{{ClientID: "x"}}
		}, wantErr: "name cannot be empty"},
		{name: "missing client id", mutate: func(c *Config) {
			c.Profiles = []Profile{{Name: "p"}}
		}, wantErr: "client-id is required"},
		{name: "duplicate profile", mutate: func(c *Config) {
			c.Profiles = []Profile{{Name: "p", ClientID: "x"}, {Name: "p", ClientID: "y"}}
		}, wantErr: "duplicate profile"},
		{name: "key and secret", mutate: func(c *Config) {
			c.Profiles = []Profile{{Name: "p", ClientID: "x", PrivateKeyFile: "k.pem", ClientSecret: "s"}}
		}, wantErr: "both a private key and a client secret"},
		{name: "unknown current profile", mutate: func(c *Config) { c.CurrentProfile = "ghost" }, wantErr: "not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSettingsTimeout(t *testing.T) {
	d, err := Settings{}.Timeout()
	require.NoError(t, err)
	assert.Zero(t, d)

	d, err = Settings{RequestTimeout: "5s"}.Timeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)
}

func TestProfileCredentials(t *testing.T) {
	t.Run("private key selects signed jwt", func(t *testing.T) {
		creds, err := Profile{Name: "p", ClientID: "c", PrivateKeyFile: "/keys/p.pem"}.Credentials()
		require.NoError(t, err)
		assert.Equal(t, authenticator.SignedJWTCredentials{SecretFile: "/keys/p.pem"}, creds)
	})

	t.Run("secret from env", func(t *testing.T) {
		t.Setenv("AUTHCTL_TEST_SECRET", "from-env")
		creds, err := Profile{Name: "p", ClientID: "c", ClientSecretEnv: "AUTHCTL_TEST_SECRET", ServiceAccount: true}.Credentials()
		require.NoError(t, err)
		assert.Equal(t, authenticator.ClientSecretCredentials{ClientSecret: "from-env", ServiceAccount: true}, creds)
	})

	t.Run("unset env fails", func(t *testing.T) {
		t.Setenv("AUTHCTL_TEST_SECRET", "")
		_, err := Profile{Name: "p", ClientID: "c", ClientSecretEnv: "AUTHCTL_TEST_SECRET"}.Credentials()
		require.Error(t, err)
	})
}

func TestResolveClientSecret(t *testing.T) {
	t.Run("returns direct secret when provided", func(t *testing.T) {
		secret, err := ResolveClientSecret("direct-secret", "IGNORED", "/ignored")
		require.NoError(t, err)
		assert.Equal(t, "direct-secret", secret)
	})

	t.Run("trims whitespace from env var", func(t *testing.T) {
		t.Setenv("TEST_CLIENT_SECRET", "  env-secret  ")
		secret, err := ResolveClientSecret("", "TEST_CLIENT_SECRET", "")
		require.NoError(t, err)
		assert.Equal(t, "env-secret", secret)
	})

	t.Run("returns error when env var not set", func(t *testing.T) {
		t.Setenv("TEST_EMPTY_SECRET", "")
		_, err := ResolveClientSecret("", "TEST_EMPTY_SECRET", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "client secret env var not set")
	})

	t.Run("reads and trims file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "secret")
		require.NoError(t, os.WriteFile(path, []byte("file-secret\n"), 0o600))
		secret, err := ResolveClientSecret("", "", path)
		require.NoError(t, err)
		assert.Equal(t, "file-secret", secret)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ResolveClientSecret("", "", filepath.Join(t.TempDir(), "absent"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read client secret file")
	})

	t.Run("nothing configured", func(t *testing.T) {
		secret, err := ResolveClientSecret("", "", "")
		require.NoError(t, err)
		assert.Empty(t, secret)
	})
}
