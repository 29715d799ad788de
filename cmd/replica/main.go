package main

import (
	"context"
	"fmt"
	"os"

	"github.com/iudanet/docsync/internal/cli"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	build := cli.BuildInfo{Version: Version, BuildDate: BuildDate, GitCommit: GitCommit}

	cmd := cli.NewRootCommand(build, cli.NewTerminal())
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
