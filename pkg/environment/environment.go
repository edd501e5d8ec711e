// Package environment maps the named platform environments to their login
// and platform URLs.
package environment

import (
	"sort"
	"strings"

	"github.com/telekom/authctl/pkg/autherr"
)

const (
	Prod    = "prod"
	Staging = "staging"
)

// Environment describes one deployment of the authorization server.
type Environment struct {
	Name        string
	BaseURL     string
	PlatformURL string
	Realm       string
}

var environments = map[string]Environment{
	Prod: {
		Name:        Prod,
		BaseURL:     "https://login.axway.com",
		PlatformURL: "https://platform.axway.com",
		Realm:       "Broker",
	},
	Staging: {
		Name:        Staging,
		BaseURL:     "https://login-preprod.axway.com",
		PlatformURL: "https://platform-preprod.axway.com",
		Realm:       "Broker",
	},
}

var aliases = map[string]string{
	"production": Prod,
	"preprod":    Staging,
}

// Resolve looks up an environment by name or alias. An empty name resolves
// to prod.
func Resolve(name string) (Environment, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = Prod
	}
	if alias, ok := aliases[key]; ok {
		key = alias
	}
	env, ok := environments[key]
	if !ok {
		return Environment{}, autherr.InvalidValue("invalid environment %q, expected one of: %s", name, strings.Join(Names(), ", "))
	}
	return env, nil
}

// Names returns the canonical environment names, sorted.
func Names() []string {
	names := make([]string, 0, len(environments))
	for name := range environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsProd reports whether name resolves to the production environment.
func IsProd(name string) bool {
	env, err := Resolve(name)
	return err == nil && env.Name == Prod
}
