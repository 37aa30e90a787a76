package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/scopeguard/pkg/cli"
	"github.com/platinummonkey/scopeguard/pkg/config"
	"github.com/platinummonkey/scopeguard/pkg/observability"
)

func main() {
	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Diagnostics go to stderr so command output stays parseable
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stderr)

	rootCmd := cli.NewRootCommand(cli.ConfigOpener(cfg, logger), os.Stdout)
	if err := rootCmd.Execute(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
