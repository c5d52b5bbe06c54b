package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/imgbuild/internal/paths"
	"github.com/cruciblehq/imgbuild/internal/protocol"
	"github.com/cruciblehq/imgbuild/internal/recipe"
	"github.com/cruciblehq/imgbuild/internal/registry"
)

// Controls recipe execution.
type Options struct {
	Recipe   *recipe.Recipe // Recipe to execute.
	Context  string         // Build context directory, root for resolving copy sources.
	Tag      string         // Name of the output image. Derived from the context directory when empty.
	Output   string         // Directory for the exported archive. Nothing is exported when empty.
	Platform string         // Target platform (e.g. "linux/amd64"). Defaults to host.
	ID       string         // Build identifier, prefixes container and snapshot names. Random when empty.
	Progress func(Progress) // Called before each step. Optional.
}

// Reported before each step starts.
type Progress struct {
	Step        int    // 1-based step number; step 1 is the base selection.
	Total       int    // Number of steps.
	Instruction string // Source text of the step.
}

func (p Progress) String() string {
	return fmt.Sprintf("[%d/%d] %s", p.Step, p.Total, p.Instruction)
}

// Returned after successful recipe execution.
type Result struct {
	ID         string          // Build identifier.
	Image      string          // Name the image was stored under.
	Digest     digest.Digest   // Digest of the image root descriptor.
	Base       string          // Normalized base image name.
	BaseDigest digest.Digest   // Digest the base was fetched by.
	Layers     []digest.Digest // Layers appended to the base, in order.
	Entrypoint []string        // Entrypoint of the image.
	Cmd        []string        // Cmd of the image.
	Output     string          // Path of the exported archive, empty when not exported.
}

// Full default command line of the image: entrypoint followed by cmd.
func (r *Result) Command() []string {
	return append(append([]string(nil), r.Entrypoint...), r.Cmd...)
}

// Wire form of the result.
func (r *Result) Message() *protocol.BuildResult {
	layers := make([]string, len(r.Layers))
	for i, l := range r.Layers {
		layers[i] = l.String()
	}
	return &protocol.BuildResult{
		ID:         r.ID,
		Image:      r.Image,
		Digest:     r.Digest.String(),
		Base:       r.Base,
		BaseDigest: r.BaseDigest.String(),
		Layers:     layers,
		Entrypoint: r.Entrypoint,
		Cmd:        r.Cmd,
		Output:     r.Output,
	}
}

// Executes a recipe against a backend.
//
// The base is resolved, every instruction runs once in order, and the image
// is finalized and stored under the tag. The first failing step ends the
// build with a [*StepError]; later steps do not run and no image is written.
func Run(ctx context.Context, be Backend, opts Options) (*Result, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}

	bctx, err := openContext(opts.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: context: %w", ErrOptions, err)
	}

	slog.Info("executing recipe",
		"id", opts.ID,
		"base", opts.Recipe.Base,
		"tag", opts.Tag,
		"context", bctx.root,
		"platform", opts.Platform,
		"layers", opts.Recipe.Layers(),
	)

	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOptions, err)
		}
	}

	return newBuilder(be, bctx, opts).build(ctx)
}

// Fills unset options and validates the rest.
func (o *Options) defaults() error {
	if o.Recipe == nil {
		return fmt.Errorf("%w: no recipe", ErrOptions)
	}
	if o.Context == "" {
		o.Context = "."
	}
	if o.Platform == "" {
		o.Platform = "linux/" + goruntime.GOARCH
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	tag := o.Tag
	if tag == "" {
		tag = defaultTag(o.Context)
	}
	normalized, err := registry.Normalize(tag)
	if err != nil {
		return fmt.Errorf("%w: tag: %w", ErrOptions, err)
	}
	o.Tag = normalized
	return nil
}

// Derives an image name from the context directory, e.g. "localhost/app".
func defaultTag(contextDir string) string {
	name := "image"
	if abs, err := filepath.Abs(contextDir); err == nil {
		name = filepath.Base(abs)
	}

	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}

	slug := strings.Trim(b.String(), ".-_")
	if slug == "" {
		slug = "image"
	}
	return "localhost/" + slug
}
