package relaycli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
	}

	var (
		server      string
		token       string
		makeCurrent bool
	)
	setContext := &cobra.Command{
		Use:   "set-context <name>",
		Short: "Create or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("--url is required")
			}
			cfg, err := LoadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			cfg.setContext(Context{Name: args[0], Server: server, Token: token}, makeCurrent)
			if err := SaveConfig(cfg, opts.cfgFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Context %q updated.\n", args[0])
			return nil
		},
	}
	setContext.Flags().StringVar(&server, "url", "", "Relay server URL")
	setContext.Flags().StringVar(&token, "api-token", "", "API token for operator endpoints")
	setContext.Flags().BoolVar(&makeCurrent, "current", true, "Set as current context")

	useContext := &cobra.Command{
		Use:   "use-context <name>",
		Short: "Switch the current context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			if _, ok := cfg.Contexts[args[0]]; !ok {
				return fmt.Errorf("context %q not found", args[0])
			}
			cfg.CurrentContext = args[0]
			if err := SaveConfig(cfg, opts.cfgFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Switched to context %q.\n", args[0])
			return nil
		},
	}

	view := &cobra.Command{
		Use:   "view",
		Short: "Show the configured contexts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.cfgFile)
			if err != nil {
				return err
			}
			asJSON, err := opts.jsonOutput()
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config file: %s\n", opts.cfgFile)
			for _, name := range cfg.names() {
				current := " "
				if cfg.CurrentContext == name {
					current = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", current, name, cfg.Contexts[name].Server)
			}
			return nil
		},
	}

	cmd.AddCommand(setContext, useContext, view)
	return cmd
}
