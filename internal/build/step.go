package build

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/imgbuild/internal/paths"
	"github.com/cruciblehq/imgbuild/internal/recipe"
)

// Holds the state of a single build.
type builder struct {
	be       Backend       // Backend the build runs on.
	src      *buildContext // Context copy sources are resolved against.
	opts     Options       // Defaults already applied.
	total    int           // Number of steps, counting the base selection.
	required bool          // Whether the recipe's required paths were checked.
}

// Creates a new [builder] for a single run.
func newBuilder(be Backend, src *buildContext, opts Options) *builder {
	return &builder{
		be:    be,
		src:   src,
		opts:  opts,
		total: len(opts.Recipe.Instructions) + 1,
	}
}

// Runs the whole chain: base selection, every instruction, finalization and
// export.
func (b *builder) build(ctx context.Context) (*Result, error) {
	rec := b.opts.Recipe
	from := "FROM " + rec.Base

	b.report(1, from)
	base, err := b.be.Resolve(ctx, rec.Base, b.opts.Platform)
	if err != nil {
		return nil, b.fail(1, rec.BaseLine, from, wrap(ErrResolution, err))
	}
	slog.Info("base resolved", "name", base.Name, "digest", base.Digest)

	session, err := b.be.Open(ctx, base, b.opts.ID, b.opts.Platform)
	if err != nil {
		return nil, b.fail(1, rec.BaseLine, from, wrap(ErrResolution, err))
	}
	defer func() {
		if err := session.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to release build session", "id", b.opts.ID, "error", err)
		}
	}()

	result := &Result{
		ID:         b.opts.ID,
		Image:      b.opts.Tag,
		Base:       base.Name,
		BaseDigest: base.Digest,
	}

	state := newStepState()
	state.inherit(base.WorkingDir)
	for i, ins := range rec.Instructions {
		step := i + 2
		b.report(step, ins.String())

		layer, err := b.step(ctx, session, state, ins)
		if err != nil {
			return nil, b.fail(step, ins.Line, ins.String(), err)
		}
		if layer != "" {
			result.Layers = append(result.Layers, layer)
		}
	}

	result.Digest, err = session.Finalize(ctx, b.opts.Tag, func(cfg *ocispec.ImageConfig) {
		state.configure(cfg)
		result.Entrypoint = cfg.Entrypoint
		result.Cmd = cfg.Cmd
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuild, wrap(ErrFinalize, err))
	}

	slog.Info("image finalized", "image", result.Image, "digest", result.Digest, "command", result.Command())

	if b.opts.Output != "" {
		out := paths.Archive(b.opts.Output)
		if err := b.be.Export(ctx, b.opts.Tag, b.opts.Platform, out); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBuild, wrap(ErrFinalize, err))
		}
		result.Output = out
	}

	return result, nil
}

// Executes one instruction. Returns the digest of the layer it appended, or
// an empty digest for metadata instructions.
func (b *builder) step(ctx context.Context, session Session, state *stepState, ins recipe.Instruction) (digest.Digest, error) {
	switch {
	case ins.Ingests():
		return b.copy(ctx, session, state, ins)
	case ins.Kind == recipe.KindRun:
		return b.run(ctx, session, state, ins)
	default:
		state.apply(ins)
		return "", nil
	}
}

// Copies context files into a new layer.
//
// The first ingestion step also checks that every path the recipe requires
// is present in the context, so that a missing file fails the build before
// any later step runs.
func (b *builder) copy(ctx context.Context, session Session, state *stepState, ins recipe.Instruction) (digest.Digest, error) {
	if !b.required {
		b.required = true
		if err := b.src.require(b.opts.Recipe.Required); err != nil {
			return "", wrap(ErrIngestion, err)
		}
	}

	plan, err := b.src.plan(ins, state)
	if err != nil {
		return "", wrap(ErrIngestion, err)
	}

	return session.Layer(ctx, ins.String(), func(ws Workspace) error {
		if err := ingest(ctx, ws, plan); err != nil {
			return wrap(ErrIngestion, err)
		}
		return nil
	})
}

// Runs a command in a new layer. A non-zero exit fails the step.
func (b *builder) run(ctx context.Context, session Session, state *stepState, ins recipe.Instruction) (digest.Digest, error) {
	args := ins.Command()
	env := state.environ()
	workdir := state.dir()

	return session.Layer(ctx, ins.String(), func(ws Workspace) error {
		if err := ws.MkdirAll(ctx, workdir); err != nil {
			return err
		}

		slog.Debug("run", "command", args, "workdir", workdir)
		result, err := ws.Exec(ctx, args, env, workdir)
		if err != nil {
			return err
		}

		logOutput(result.Stdout, result.Stderr)

		if result.ExitCode != 0 {
			return fmt.Errorf("%w: exit code %d: %s", ErrInstallation, result.ExitCode, lastLine(result.Stderr))
		}
		return nil
	})
}

// Notifies the progress callback and logs the step.
func (b *builder) report(step int, instruction string) {
	p := Progress{Step: step, Total: b.total, Instruction: instruction}
	slog.Debug("step", "step", step, "total", b.total, "instruction", instruction)
	if b.opts.Progress != nil {
		b.opts.Progress(p)
	}
}

// Wraps a step failure.
func (b *builder) fail(step, line int, instruction string, err error) error {
	return fmt.Errorf("%w: %w", ErrBuild, &StepError{
		Step:        step,
		Total:       b.total,
		Line:        line,
		Instruction: instruction,
		Err:         err,
	})
}

// Logs captured command output line by line at debug level.
func logOutput(stdout, stderr string) {
	for _, line := range strings.Split(strings.TrimRight(stdout, "\n"), "\n") {
		if line != "" {
			slog.Debug(line, "stream", "stdout")
		}
	}
	for _, line := range strings.Split(strings.TrimRight(stderr, "\n"), "\n") {
		if line != "" {
			slog.Debug(line, "stream", "stderr")
		}
	}
}

// Last non-empty line of s, which for most tools carries the actual error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
