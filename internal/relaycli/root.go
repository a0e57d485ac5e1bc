// Package relaycli implements relayctl, the operator CLI for the chat relay.
package relaycli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	cfgFile       string
	contextName   string
	overrideURL   string
	overrideToken string
	outputFormat  string
	timeout       time.Duration
}

// Execute runs the CLI until it finishes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewRootCommand assembles the relayctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Talk to a chat relay from the terminal",
		Long: `relayctl sends messages to a chat relay and follows its live event feed.
Most commands require a configured context (see 'relayctl config set-context').`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", defaultConfigPath(), "Path to the relayctl config file")
	root.PersistentFlags().StringVar(&opts.contextName, "context", "", "Context name to use (overrides current)")
	root.PersistentFlags().StringVar(&opts.overrideURL, "server", "", "Override relay server URL")
	root.PersistentFlags().StringVar(&opts.overrideToken, "token", "", "Override API token")
	root.PersistentFlags().StringVarP(&opts.outputFormat, "output", "o", "table", "Output format: table|json")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 15*time.Second, "Timeout for request/response calls")

	root.AddCommand(
		newHealthCmd(opts),
		newToolsCmd(opts),
		newTranscriptCmd(opts),
		newSendCmd(opts),
		newWatchCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// resolvedContext merges config state with flag overrides.
func (o *options) resolvedContext() (*Context, error) {
	if o.overrideURL != "" && o.contextName == "" {
		return &Context{Name: "flags", Server: o.overrideURL, Token: o.overrideToken}, nil
	}
	cfg, err := LoadConfig(o.cfgFile)
	if err != nil {
		return nil, err
	}
	name := o.contextName
	if name == "" {
		name = cfg.CurrentContext
	}
	ctx, ok := cfg.Contexts[name]
	if !ok {
		return nil, fmt.Errorf("context %q not found; use 'relayctl config set-context'", name)
	}
	if o.overrideURL != "" {
		ctx.Server = o.overrideURL
	}
	if o.overrideToken != "" {
		ctx.Token = o.overrideToken
	}
	if ctx.Server == "" {
		return nil, fmt.Errorf("context %q is missing a server URL", name)
	}
	return &ctx, nil
}

func (o *options) client() (*Client, error) {
	ctx, err := o.resolvedContext()
	if err != nil {
		return nil, err
	}
	return &Client{BaseURL: ctx.Server, Token: ctx.Token, Timeout: o.timeout}, nil
}

func (o *options) jsonOutput() (bool, error) {
	switch strings.ToLower(o.outputFormat) {
	case "json":
		return true, nil
	case "table", "":
		return false, nil
	default:
		return false, fmt.Errorf("unsupported output format %q", o.outputFormat)
	}
}
