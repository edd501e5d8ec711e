package authenticator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-resty/resty/v2"
)

const wellKnownSuffix = "/.well-known/openid-configuration"

// Discover fetches the OpenID discovery document of the server described by
// opts. No credentials are needed.
func Discover(ctx context.Context, opts Options) (map[string]any, error) {
	cfg, err := opts.resolve(false)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.timeout}
	}
	wellKnown := cfg.endpoints[EndpointWellKnown]

	if issuer, ok := strings.CutSuffix(wellKnown, wellKnownSuffix); ok {
		ctx = oidc.ClientContext(ctx, hc)
		// Accept a document whose issuer differs from the discovery URL.
		ctx = oidc.InsecureIssuerURLContext(ctx, issuer)
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		var doc map[string]any
		if err := provider.Claims(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode discovery document: %w", err)
		}
		return doc, nil
	}

	resp, err := resty.NewWithClient(hc).R().SetContext(ctx).Get(wellKnown)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch discovery document: %s", resp.Status())
	}
	var doc map[string]any
	if err := json.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	return doc, nil
}
