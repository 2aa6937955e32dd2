// Package cli implements the crudrepo command line: one subcommand per
// repository operation, run against a table of schemaless documents.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabrielgits/crudrepo/pkg/config"
	"github.com/gabrielgits/crudrepo/pkg/di"
	"github.com/gabrielgits/crudrepo/record"
	"github.com/gabrielgits/crudrepo/repository"
	"github.com/gabrielgits/crudrepo/repositorycache"
	"github.com/spf13/cobra"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
)

type options struct {
	ConfigPath string
	Table      string
	Mode       string
	Token      string
	Output     string
}

// app holds the state shared by the subcommands of one invocation.
type app struct {
	opts options

	container *di.Container
	repo      repository.Repository[record.Document]
	failures  func() []repositorycache.MirrorFailure
}

// NewRootCommand builds the crudrepo command tree. Logs go to the command's
// error stream.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "crudrepo",
		Short: "Read and write records of a remote table with a local mirror",
		Long: `crudrepo talks to a JSON endpoint serving {base}/{table} resources and
keeps a local mirror of everything it reads or writes. In cached mode reads
fall back to the mirror when the endpoint is unreachable.

Settings come from --config, then CRUDREPO_* environment variables, e.g.

	CRUDREPO_REMOTE_BASE_URL=https://api.example.com crudrepo --table users list
`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", "", "path to a config file (yaml, json or toml)")
	flags.StringVarP(&a.opts.Table, "table", "t", "", "table (remote resource) to operate on")
	flags.StringVar(&a.opts.Mode, "mode", "", "repository mode: cached, remote or local (overrides config)")
	flags.StringVar(&a.opts.Token, "token", "", "bearer token for the remote endpoint (overrides config)")
	flags.StringVarP(&a.opts.Output, "output", "o", OutputTable, "output format: table or json")

	root.AddCommand(
		a.listCommand(),
		a.getCommand(),
		a.createCommand(),
		a.updateCommand(),
		a.deleteCommand(),
		a.deleteAllCommand(),
		a.findCommand(),
		a.replaceCommand(),
	)
	return root
}

// Execute runs the command tree against ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if !needsRepository(cmd) {
		return nil
	}
	if a.opts.Table == "" {
		return errors.New("--table is required")
	}
	if a.opts.Output != OutputTable && a.opts.Output != OutputJSON {
		return fmt.Errorf("unknown output format %q", a.opts.Output)
	}

	// Flags may turn an invalid file into a valid config (local mode needs
	// no base URL), so validation runs after they are applied.
	cfg, err := config.Read(a.opts.ConfigPath)
	if err != nil {
		return err
	}
	if a.opts.Mode != "" {
		cfg.Mode = a.opts.Mode
	}
	if a.opts.Token != "" {
		cfg.Remote.Token = a.opts.Token
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.container, err = di.NewContainer(cfg, di.WithLogOutput(cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	a.repo, err = di.NewRepository[record.Document](a.container, a.opts.Table, record.DecodeDocument)
	if err != nil {
		_ = a.container.Close()
		a.container = nil
		return err
	}

	ctx, failures := repositorycache.CollectMirrorFailures(cmd.Context())
	a.failures = failures
	cmd.SetContext(ctx)
	return nil
}

// needsRepository is false for cobra's built-in help and completion commands.
func needsRepository(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// run adapts fn into a RunE that reports mirror failures and releases the
// container whether or not fn succeeds.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if a.failures != nil {
			for _, f := range a.failures() {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", f)
			}
		}
		if a.container != nil {
			if cerr := a.container.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		return err
	}
}
