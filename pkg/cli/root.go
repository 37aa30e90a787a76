package cli

import (
	"flag"
	"fmt"
	"io"
	"sort"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the admin root command. Subcommands open their
// environment through open only when they run.
func NewRootCommand(open Opener, out io.Writer) *Command {
	root := &Command{
		Name:        "scopeguard-admin",
		Description: "ScopeGuard - permission administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("scopeguard-admin", flag.ContinueOnError),
	}

	root.Subcommands["migrate"] = newMigrateCommand(open, out)
	root.Subcommands["seed"] = newSeedCommand(open, out)
	root.Subcommands["backfill"] = newBackfillCommand(open, out)
	root.Subcommands["resolve"] = newResolveCommand(open, out)
	root.Subcommands["invalidate"] = newInvalidateCommand(open, out)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		return c.usage(out)
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage(out io.Writer) error {
	fmt.Fprintf(out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(out, "Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}
