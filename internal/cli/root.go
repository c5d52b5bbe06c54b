package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/imgbuild/internal"
	"github.com/cruciblehq/imgbuild/internal/paths"
	"github.com/cruciblehq/imgbuild/internal/settings"
)

// Represents the root command for imgbuild.
var RootCmd struct {
	Quiet   bool       `short:"q" help:"Suppress informational output."`
	Verbose bool       `short:"v" help:"Enable verbose output."`
	Debug   bool       `short:"d" help:"Enable debug output."`
	Config  string     `short:"c" help:"Override the default settings file." placeholder:"PATH"`
	Socket  string     `short:"s" help:"Override the default Unix socket path." placeholder:"PATH"`
	Build   BuildCmd   `cmd:"" help:"Build an image from a context directory."`
	Run     RunCmd     `cmd:"" help:"Run an image's default command."`
	Inspect InspectCmd `cmd:"" help:"Show the configuration of an exported image archive."`
	Remove  RemoveCmd  `cmd:"" name:"rm" help:"Remove a built image."`
	Start   StartCmd   `cmd:"" help:"Start the build daemon."`
	Status  StatusCmd  `cmd:"" help:"Show build daemon status."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Builds container images from a recipe and a context directory.\n\nWithout a Dockerfile, the built-in recipe installs requirements.txt with pip and runs python-example.py."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	configureLogger()

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags.
func configureLogger() {
	if RootCmd.Debug {
		internal.SetDebug(true)
	}
	if RootCmd.Quiet {
		internal.SetQuiet(true)
	}
	if RootCmd.Verbose {
		internal.SetVerbose(true)
	}

	slog.SetDefault(internal.NewLogger(os.Stderr, internal.IsVerbose()))
	internal.SetLogLevel(internal.ModeLevel())
}

// Loads the settings file, falling back to defaults when the default file
// does not exist. An explicitly given file must exist.
func loadSettings() (settings.Settings, error) {
	if RootCmd.Config != "" {
		if _, err := os.Stat(RootCmd.Config); errors.Is(err, fs.ErrNotExist) {
			return settings.Settings{}, fmt.Errorf("%w: %s does not exist", settings.ErrSettings, RootCmd.Config)
		}
	}
	return settings.Load(cmp.Or(RootCmd.Config, paths.Settings()))
}

// Path of the daemon socket.
func socket() string {
	return cmp.Or(RootCmd.Socket, paths.Socket())
}
