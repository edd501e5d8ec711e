package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/telekom/authctl/pkg/authctl/config"
	"github.com/telekom/authctl/pkg/authctl/output"
	"github.com/telekom/authctl/pkg/tokenstore"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage authctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigProfilesCommand(),
		newConfigCurrentProfileCommand(),
		newConfigUseProfileCommand(),
		newConfigSetProfileCommand(),
		newConfigDeleteProfileCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		flags loginFlags
		name  string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize an authctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := config.DefaultConfig()
			if flags.clientID != "" {
				cfg.CurrentProfile = name
				cfg.Profiles = append(cfg.Profiles, flags.toProfile(name))
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "default", "Name of the initial profile")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	return cmd
}

func (f *loginFlags) toProfile(name string) config.Profile {
	return config.Profile{
		Name:             name,
		BaseURL:          f.baseURL,
		Env:              f.env,
		Realm:            f.realm,
		ClientID:         f.clientID,
		ClientSecret:     f.clientSecret,
		ClientSecretEnv:  f.clientSecretEnv,
		ClientSecretFile: f.clientSecretFile,
		PrivateKeyFile:   f.privateKeyFile,
		ServiceAccount:   f.serviceAccount,
		Scope:            f.scope,
		Endpoints:        f.endpoints,
	}
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			view := *rt.cfg
			view.Profiles = make([]config.Profile, len(rt.cfg.Profiles))
			for i, p := range rt.cfg.Profiles {
				if p.ClientSecret != "" {
					p.ClientSecret = "REDACTED"
				}
				view.Profiles[i] = p
			}
			return output.WriteObject(rt.Writer(), output.FormatYAML, view)
		},
	}
}

func newConfigProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-profiles",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			current := rt.cfg.CurrentProfileOrDefault()
			for _, p := range rt.cfg.Profiles {
				marker := " "
				if p.Name == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\n", marker, p.Name, p.ClientID)
			}
			return nil
		},
	}
}

func newConfigCurrentProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-profile",
		Short: "Show the current profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.cfg.CurrentProfileOrDefault())
			return nil
		},
	}
}

func newConfigUseProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use-profile NAME",
		Aliases: []string{"use"},
		Short:   "Set the default profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindProfile(name); err != nil {
				return err
			}
			rt.cfg.CurrentProfile = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), name)
			return nil
		},
	}
}

func newConfigSetProfileCommand() *cobra.Command {
	var flags loginFlags
	cmd := &cobra.Command{
		Use:   "set-profile NAME",
		Short: "Add or update a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			p := flags.toProfile(name)
			if existing, err := rt.cfg.FindProfile(name); err == nil {
				rt.profileOverride = name
				if p, err = flags.profile(cmd, rt); err != nil {
					return err
				}
				p.Name = existing.Name
			}
			rt.cfg.SetProfile(p)
			if err := rt.cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Saved profile %s\n", name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newConfigDeleteProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-profile NAME",
		Short: "Remove a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			name := args[0]
			if !rt.cfg.DeleteProfile(name) {
				return fmt.Errorf("profile not found: %s", name)
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted profile %s\n", name)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			key := args[0]
			value := args[1]
			s := &rt.cfg.Settings
			switch key {
			case "settings.output-format":
				if _, err := output.ParseFormat(value); err != nil {
					return err
				}
				s.OutputFormat = value
			case "settings.token-store-type":
				t, err := tokenstore.ParseType(value)
				if err != nil {
					return err
				}
				s.TokenStoreType = string(t)
			case "settings.token-refresh-threshold":
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					return fmt.Errorf("invalid token refresh threshold: %s", value)
				}
				s.TokenRefreshThreshold = n
			case "settings.persist-secrets":
				if s.PersistSecrets, err = strconv.ParseBool(value); err != nil {
					return fmt.Errorf("invalid boolean: %s", value)
				}
			case "settings.verify-tokens":
				if s.VerifyTokens, err = strconv.ParseBool(value); err != nil {
					return fmt.Errorf("invalid boolean: %s", value)
				}
			case "settings.home-dir":
				s.HomeDir = value
			case "settings.request-timeout":
				s.RequestTimeout = value
				if _, err := s.Timeout(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unsupported key: %s", key)
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}
