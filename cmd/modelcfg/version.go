package main

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/modelcfg/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Flags: outputFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			return render(stdout(cmd), outputFormat, info, func(w io.Writer) {
				fmt.Fprintf(w, "version:    %s\n", info.Version)
				if info.Commit != "" {
					fmt.Fprintf(w, "commit:     %s\n", info.Commit)
				}
				if info.BuildTime != "" {
					fmt.Fprintf(w, "build time: %s\n", info.BuildTime)
				}
				fmt.Fprintf(w, "go:         %s\n", info.GoVersion)
			})
		},
	}
}
