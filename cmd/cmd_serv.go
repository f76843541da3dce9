package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sqlops/sqlconsole/serv"
)

// ANSI color codes
const (
	colorCyan  = "\033[36m"
	colorReset = "\033[0m"
)

// printBanner prints the startup banner
func printBanner() {
	// Respect NO_COLOR environment variable for CI environments
	cyan, reset := colorCyan, colorReset
	if os.Getenv("NO_COLOR") != "" {
		cyan, reset = "", ""
	}

	fmt.Printf(`
%s  ┌─┐┌─┐ ┬    ┌─┐┌─┐┌┐┌┌─┐┌─┐┬  ┌─┐
  └─┐│─┼┐│    │  │ ││││└─┐│ ││  ├┤
  └─┘└─┘└┴─┘  └─┘└─┘┘└┘└─┘└─┘┴─┘└─┘%s

`, cyan, reset)
}

// servCmd is the cobra CLI command for the serve subcommand
func servCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"serv"},
		Short:   "Run the query console service",
		Run:     cmdServ,
	}
}

// cmdServ is the handler for the serve subcommand
func cmdServ(*cobra.Command, []string) {
	printBanner()
	setup(cpath)

	s, err := serv.NewService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	if err := s.Start(); err != nil {
		log.Fatalf("%s", err)
	}
}
