package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// Build metadata, set via -ldflags.
var (
	version = "v0.1.0-dev"
	commit  = ""
)

func versionString() string {
	if len(commit) > 12 {
		return version + " (" + commit[:12] + ")"
	}
	if commit != "" {
		return version + " (" + commit + ")"
	}
	return version
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("Sapphire %s\n", versionString())
			return nil
		},
	}
}
