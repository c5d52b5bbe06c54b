package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/cruciblehq/imgbuild/internal"
	"github.com/cruciblehq/imgbuild/internal/cli"
)

// The entry point for imgbuild.
//
// Initializes logging, displays startup information, and executes the root
// command. A command reporting an exit status exits with that status; any
// other error exits with 1.
func main() {
	slog.SetDefault(internal.NewLogger(os.Stderr, internal.IsVerbose()))
	internal.SetLogLevel(internal.ModeLevel())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("imgbuild is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				slog.Error(exitErr.Err.Error())
			}
			os.Exit(exitErr.Code)
		}
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
