package cli

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/imgbuild/internal"
	"github.com/cruciblehq/imgbuild/internal/build"
	"github.com/cruciblehq/imgbuild/internal/protocol"
	"github.com/cruciblehq/imgbuild/internal/recipe"
)

// Represents the 'imgbuild build' command.
type BuildCmd struct {
	Context  string `arg:"" optional:"" default:"." help:"Build context directory." type:"existingdir"`
	File     string `short:"f" help:"Recipe file. Defaults to the context's Dockerfile, or the built-in recipe when there is none." placeholder:"PATH"`
	Tag      string `short:"t" help:"Name of the output image. Defaults to localhost/<context directory name>." placeholder:"NAME"`
	Output   string `short:"o" help:"Directory to export image.tar into." placeholder:"DIR"`
	Base     string `short:"b" help:"Base image of the built-in recipe." placeholder:"REF"`
	Platform string `short:"p" help:"Target platform." placeholder:"OS/ARCH"`
	Remote   bool   `short:"r" help:"Run the build on the daemon."`
}

// Executes the build command.
//
// The build runs in-process against containerd unless --remote is given, in
// which case the request is sent to the daemon. Either way the outcome is
// printed to stdout.
func (c *BuildCmd) Run(ctx context.Context) error {
	source, err := c.recipeSource()
	if err != nil {
		return err
	}

	if c.Remote {
		return c.runRemote(ctx, source)
	}

	st, err := loadSettings()
	if err != nil {
		return err
	}

	var rec *recipe.Recipe
	if source != "" {
		rec, err = recipe.Parse(strings.NewReader(source))
	} else {
		rec, err = recipe.Default(cmp.Or(c.Base, st.Build.Base))
	}
	if err != nil {
		return err
	}

	be, err := build.Connect(st.Containerd)
	if err != nil {
		return err
	}
	defer be.Close()

	result, err := build.Run(ctx, be, build.Options{
		Recipe:   rec,
		Context:  c.Context,
		Tag:      c.Tag,
		Output:   c.Output,
		Platform: cmp.Or(c.Platform, st.Build.Platform),
		Progress: func(p build.Progress) {
			if !internal.IsQuiet() {
				fmt.Fprintln(os.Stderr, p)
			}
		},
	})
	if err != nil {
		return err
	}

	printBuild(os.Stdout, result.Message())
	return nil
}

// Sends the build to the daemon. Paths are made absolute because the daemon
// does not share the client's working directory.
func (c *BuildCmd) runRemote(ctx context.Context, source string) error {
	contextDir, err := filepath.Abs(c.Context)
	if err != nil {
		return err
	}

	output := c.Output
	if output != "" {
		if output, err = filepath.Abs(output); err != nil {
			return err
		}
	}

	var result protocol.BuildResult
	err = protocol.Call(ctx, socket(), protocol.CmdBuild, &protocol.BuildRequest{
		Recipe:   source,
		Base:     c.Base,
		Context:  contextDir,
		Tag:      c.Tag,
		Output:   output,
		Platform: c.Platform,
	}, &result)
	if err != nil {
		return err
	}

	printBuild(os.Stdout, &result)
	return nil
}

// Returns the recipe source to build, or an empty string for the built-in
// recipe.
func (c *BuildCmd) recipeSource() (string, error) {
	if c.File != "" {
		data, err := os.ReadFile(c.File)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	data, err := os.ReadFile(filepath.Join(c.Context, recipe.Filename))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Prints the outcome of a build.
func printBuild(w io.Writer, r *protocol.BuildResult) {
	fmt.Fprintf(w, "image:   %s@%s\n", r.Image, r.Digest)
	fmt.Fprintf(w, "base:    %s@%s\n", r.Base, r.BaseDigest)
	fmt.Fprintf(w, "layers:  %d\n", len(r.Layers))
	fmt.Fprintf(w, "command: %s\n", formatCommand(append(append([]string(nil), r.Entrypoint...), r.Cmd...)))
	if r.Output != "" {
		fmt.Fprintf(w, "archive: %s\n", r.Output)
	}
}

// Renders a command as a JSON-style list, the way recipes write exec form.
func formatCommand(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
