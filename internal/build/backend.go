package build

import (
	"context"
	"io"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/imgbuild/internal/runtime"
)

// A base image ready to build on.
type Base struct {
	Ref        string        // Reference as written in the recipe.
	Name       string        // Normalized repository name.
	Digest     digest.Digest // Content digest the base was fetched by.
	WorkingDir string        // Working directory declared by the base, if any.

	image *runtime.Image // Backing image, set by [Containerd].
}

// Container operations a build needs.
//
// Resolve is called once per build, before anything else. Every other
// operation goes through the returned [Session].
type Backend interface {
	Resolve(ctx context.Context, ref, platform string) (*Base, error)
	Open(ctx context.Context, base *Base, id, platform string) (Session, error)
	Export(ctx context.Context, name, platform, path string) error
}

// Layers filesystem changes on top of a base image.
type Session interface {

	// Runs fn against a fresh container on the latest layer and commits the
	// container's changes as a new layer. Nothing is committed when fn fails.
	Layer(ctx context.Context, createdBy string, fn func(Workspace) error) (digest.Digest, error)

	// Writes the final image under name. configure receives the base image's
	// runtime config and edits it in place.
	Finalize(ctx context.Context, name string, configure func(*ocispec.ImageConfig)) (digest.Digest, error)

	// Releases intermediate state. Safe to call more than once.
	Close(ctx context.Context) error
}

// Filesystem and process access to the container of one step.
type Workspace interface {
	MkdirAll(ctx context.Context, path string) error
	CopyTo(ctx context.Context, r io.Reader, destDir string) error
	Exec(ctx context.Context, args []string, env []string, workdir string) (*runtime.ExecResult, error)
}
