package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/telekom/authctl/pkg/account"
	"github.com/telekom/authctl/pkg/auth"
	"github.com/telekom/authctl/pkg/authctl/config"
	"github.com/telekom/authctl/pkg/authctl/output"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Log in, inspect and log out accounts",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthAuthorizeURLCommand(),
		newAuthListCommand(),
		newAuthStatusCommand(),
		newAuthTokenCommand(),
		newAuthLogoutCommand(),
		newAuthServerInfoCommand(),
	)
	return cmd
}

// loginFlags override the selected profile field by field.
type loginFlags struct {
	baseURL          string
	env              string
	realm            string
	clientID         string
	clientSecret     string
	clientSecretEnv  string
	clientSecretFile string
	privateKeyFile   string
	serviceAccount   bool
	scope            string
	endpoints        map[string]string
}

func (f *loginFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "Authorization server base URL")
	cmd.Flags().StringVar(&f.env, "env", "", "Environment name: prod or staging")
	cmd.Flags().StringVar(&f.realm, "realm", "", "Realm name")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "OAuth2 client ID")
	cmd.Flags().StringVar(&f.clientSecret, "client-secret", "", "Client secret")
	cmd.Flags().StringVar(&f.clientSecretEnv, "client-secret-env", "", "Environment variable holding the client secret")
	cmd.Flags().StringVar(&f.clientSecretFile, "client-secret-file", "", "File holding the client secret")
	cmd.Flags().StringVar(&f.privateKeyFile, "private-key-file", "", "PEM private key for signed JWT authentication")
	cmd.Flags().BoolVar(&f.serviceAccount, "service-account", false, "Use the client_credentials grant")
	cmd.Flags().StringVar(&f.scope, "scope", "", "OAuth2 scope")
	cmd.Flags().StringToStringVar(&f.endpoints, "endpoint", nil, "Endpoint override, e.g. token=https://idp/token")
}

// profile merges the configured profile with the flags set on cmd.
func (f *loginFlags) profile(cmd *cobra.Command, rt *runtimeState) (config.Profile, error) {
	var p config.Profile
	if name := rt.ResolveProfileName(); name != "" {
		found, err := rt.cfg.FindProfile(name)
		switch {
		case err == nil:
			p = *found
		case rt.profileOverride != "":
			return p, err
		}
	}
	changed := cmd.Flags().Changed
	if changed("base-url") {
		p.BaseURL = f.baseURL
	}
	if changed("env") {
		p.Env = f.env
	}
	if changed("realm") {
		p.Realm = f.realm
	}
	if changed("client-id") {
		p.ClientID = f.clientID
	}
	if changed("client-secret") || changed("client-secret-env") || changed("client-secret-file") || changed("private-key-file") {
		p.ClientSecret = f.clientSecret
		p.ClientSecretEnv = f.clientSecretEnv
		p.ClientSecretFile = f.clientSecretFile
		p.PrivateKeyFile = f.privateKeyFile
	}
	if changed("service-account") {
		p.ServiceAccount = f.serviceAccount
	}
	if changed("scope") {
		p.Scope = f.scope
	}
	if changed("endpoint") {
		p.Endpoints = f.endpoints
	}
	return p, nil
}

func (f *loginFlags) loginOptions(cmd *cobra.Command, rt *runtimeState) (auth.LoginOptions, error) {
	p, err := f.profile(cmd, rt)
	if err != nil {
		return auth.LoginOptions{}, err
	}
	if p.ClientID == "" {
		return auth.LoginOptions{}, errors.New("no profile configured: pass --client-id or select a profile")
	}
	creds, err := p.Credentials()
	if err != nil {
		return auth.LoginOptions{}, err
	}
	return auth.LoginOptions{
		BaseURL:     p.BaseURL,
		Env:         p.Env,
		Realm:       p.Realm,
		ClientID:    p.ClientID,
		Credentials: creds,
		Endpoints:   p.Endpoints,
		Scope:       p.Scope,
		Profile:     p.Name,
	}, nil
}

func newAuthLoginCommand() *cobra.Command {
	var (
		flags        loginFlags
		code         string
		codeVerifier string
		redirectURI  string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			opts, err := flags.loginOptions(cmd, rt)
			if err != nil {
				return err
			}
			opts.Code = code
			opts.CodeVerifier = codeVerifier
			opts.RedirectURI = redirectURI
			a, err := rt.Auth(cmd.Context())
			if err != nil {
				return err
			}
			acct, err := a.Login(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return writeAccount(rt, acct, "Authenticated")
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&code, "code", "", "Authorization code returned to the redirect URI")
	cmd.Flags().StringVar(&codeVerifier, "code-verifier", "", "PKCE verifier printed by authorize-url")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "Redirect URI used to obtain the code")
	return cmd
}

type authorizeResult struct {
	URL          string `json:"url" yaml:"url"`
	State        string `json:"state" yaml:"state"`
	CodeVerifier string `json:"codeVerifier" yaml:"codeVerifier"`
}

// tokenResult is the structured form of auth token. The refresh token is
// never printed.
type tokenResult struct {
	AccessToken string    `json:"accessToken" yaml:"accessToken"`
	TokenType   string    `json:"tokenType" yaml:"tokenType"`
	Expiry      time.Time `json:"expiry" yaml:"expiry"`
}

func writeToken(rt *runtimeState, acct *account.Account) error {
	format, err := output.ParseFormat(rt.OutputFormat())
	if err != nil {
		return err
	}
	tok := acct.Token()
	if format == output.FormatTable || format == output.FormatWide {
		_, _ = fmt.Fprintln(rt.Writer(), tok.AccessToken)
		return nil
	}
	res := tokenResult{AccessToken: tok.AccessToken, TokenType: tok.TokenType, Expiry: tok.Expiry.UTC()}
	if format == output.FormatTemplate {
		return output.WriteTemplate(rt.Writer(), rt.templateText, res)
	}
	return output.WriteObject(rt.Writer(), format, res)
}

func newAuthAuthorizeURLCommand() *cobra.Command {
	var (
		flags loginFlags
		state string
	)
	cmd := &cobra.Command{
		Use:   "authorize-url",
		Short: "Print the browser URL for an interactive login",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			opts, err := flags.loginOptions(cmd, rt)
			if err != nil {
				return err
			}
			a, err := rt.Auth(cmd.Context())
			if err != nil {
				return err
			}
			if state == "" {
				state = uuid.NewString()
			}
			url, verifier, err := a.AuthorizationURL(opts, state)
			if err != nil {
				return err
			}
			res := authorizeResult{URL: url, State: state, CodeVerifier: verifier}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			switch format {
			case output.FormatTable, output.FormatWide:
				_, _ = fmt.Fprintf(rt.Writer(), "Open this URL in a browser:\n%s\n\nThen run: authctl auth login --code <code> --code-verifier %s\n", res.URL, res.CodeVerifier)
				return nil
			case output.FormatTemplate:
				return output.WriteTemplate(rt.Writer(), rt.templateText, res)
			default:
				return output.WriteObject(rt.Writer(), format, res)
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&state, "state", "", "OAuth2 state value (random when empty)")
	return cmd
}

func newAuthListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			a, err := rt.Auth(cmd.Context())
			if err != nil {
				return err
			}
			accounts, err := a.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeAccounts(rt, output.SummarizeAll(accounts, time.Now()))
		},
	}
}

// lookup resolves the account named in args, or the account of the
// selected profile.
func lookup(cmd *cobra.Command, rt *runtimeState, flags *loginFlags, args []string) (*account.Account, error) {
	a, err := rt.Auth(cmd.Context())
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		return a.Find(cmd.Context(), args[0])
	}
	opts, err := flags.loginOptions(cmd, rt)
	if err != nil {
		return nil, err
	}
	return a.FindFor(cmd.Context(), opts)
}

func newAuthStatusCommand() *cobra.Command {
	var flags loginFlags
	cmd := &cobra.Command{
		Use:   "status [ACCOUNT]",
		Short: "Show the authentication status of an account, renewing it when needed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			acct, err := lookup(cmd, rt, &flags, args)
			if err != nil {
				return err
			}
			if acct == nil {
				_, _ = fmt.Fprintln(rt.Writer(), "Not authenticated")
				return nil
			}
			return writeAccount(rt, acct, "Authenticated")
		},
	}
	flags.register(cmd)
	return cmd
}

func newAuthTokenCommand() *cobra.Command {
	var flags loginFlags
	cmd := &cobra.Command{
		Use:   "token [ACCOUNT]",
		Short: "Print a valid access token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			acct, err := lookup(cmd, rt, &flags, args)
			if err != nil {
				return err
			}
			if acct == nil {
				return errors.New("not authenticated: run authctl auth login")
			}
			return writeToken(rt, acct)
		},
	}
	flags.register(cmd)
	return cmd
}

func newAuthLogoutCommand() *cobra.Command {
	var (
		all       bool
		baseURL   string
		localOnly bool
	)
	cmd := &cobra.Command{
		Use:   "logout [ACCOUNT...]",
		Short: "Remove stored accounts and end their sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			a, err := rt.Auth(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := a.Logout(cmd.Context(), auth.LogoutOptions{
				Accounts:  args,
				All:       all,
				BaseURL:   baseURL,
				LocalOnly: localOnly,
			})
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				_, _ = fmt.Fprintln(rt.Writer(), "No accounts to log out")
				return nil
			}
			for _, acct := range removed {
				_, _ = fmt.Fprintf(rt.Writer(), "Logged out %s\n", acct.Name)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Log out every account")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Only log out accounts of this base URL")
	cmd.Flags().BoolVar(&localOnly, "local", false, "Only remove the stored accounts")
	return cmd
}

func newAuthServerInfoCommand() *cobra.Command {
	var flags loginFlags
	cmd := &cobra.Command{
		Use:   "server-info",
		Short: "Show the OpenID discovery document of the authorization server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			p, err := flags.profile(cmd, rt)
			if err != nil {
				return err
			}
			a, err := rt.Auth(cmd.Context())
			if err != nil {
				return err
			}
			info, err := a.ServerInfo(cmd.Context(), auth.LoginOptions{
				BaseURL:   p.BaseURL,
				Env:       p.Env,
				Realm:     p.Realm,
				ClientID:  p.ClientID,
				Endpoints: p.Endpoints,
			})
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			switch format {
			case output.FormatTable, output.FormatWide:
				return output.WriteObject(rt.Writer(), output.FormatYAML, info)
			case output.FormatTemplate:
				return output.WriteTemplate(rt.Writer(), rt.templateText, info)
			default:
				return output.WriteObject(rt.Writer(), format, info)
			}
		},
	}
	flags.register(cmd)
	return cmd
}

func writeAccount(rt *runtimeState, acct *account.Account, verb string) error {
	format, err := output.ParseFormat(rt.OutputFormat())
	if err != nil {
		return err
	}
	summary := output.Summarize(acct, time.Now())
	switch format {
	case output.FormatTable, output.FormatWide:
		_, _ = fmt.Fprintf(rt.Writer(), "%s as %s (%s). Token expires at %s\n",
			verb, summary.Name, summary.Authenticator, summary.AccessExpires.Format(time.RFC3339))
		return nil
	case output.FormatTemplate:
		return output.WriteTemplate(rt.Writer(), rt.templateText, summary)
	default:
		return output.WriteObject(rt.Writer(), format, summary)
	}
}

func writeAccounts(rt *runtimeState, summaries []output.AccountSummary) error {
	format, err := output.ParseFormat(rt.OutputFormat())
	if err != nil {
		return err
	}
	switch format {
	case output.FormatTable:
		if len(summaries) == 0 {
			_, _ = fmt.Fprintln(rt.Writer(), "No accounts")
			return nil
		}
		output.WriteAccountTable(rt.Writer(), summaries)
		return nil
	case output.FormatWide:
		output.WriteAccountTableWide(rt.Writer(), summaries)
		return nil
	case output.FormatTemplate:
		return output.WriteTemplate(rt.Writer(), rt.templateText, summaries)
	default:
		return output.WriteObject(rt.Writer(), format, summaries)
	}
}
