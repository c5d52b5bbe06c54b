package build

import (
	"context"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/imgbuild/internal"
	"github.com/cruciblehq/imgbuild/internal/registry"
	"github.com/cruciblehq/imgbuild/internal/runtime"
	"github.com/cruciblehq/imgbuild/internal/settings"
)

// Prefix marking a base reference as a local OCI archive path rather than a
// registry reference (e.g. "oci-archive:./python.tar").
const ArchivePrefix = "oci-archive:"

// [Backend] on a containerd daemon.
//
// Registry bases are resolved to a digest through Resolver and pulled by that
// digest, so that the layers built on top are tied to exactly the base that
// was resolved.
type Containerd struct {
	Runtime  *runtime.Runtime
	Resolver *registry.Resolver
}

// Resolves and fetches the base image for platform.
func (b *Containerd) Resolve(ctx context.Context, ref, platform string) (*Base, error) {
	if path, ok := strings.CutPrefix(ref, ArchivePrefix); ok {
		img, err := b.Runtime.ImportBase(ctx, path, platform)
		if err != nil {
			return nil, err
		}
		return newBase(ctx, ref, img)
	}

	resolved, err := b.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	img, err := b.Runtime.Pull(ctx, resolved.Pinned(), platform)
	if err != nil {
		return nil, err
	}
	img.Name = resolved.Name
	img.Digest = resolved.Digest

	return newBase(ctx, ref, img)
}

// Describes a fetched base image.
func newBase(ctx context.Context, ref string, img *runtime.Image) (*Base, error) {
	cfg, err := img.Config(ctx)
	if err != nil {
		return nil, err
	}
	return &Base{
		Ref:        ref,
		Name:       img.Name,
		Digest:     img.Digest,
		WorkingDir: cfg.WorkingDir,
		image:      img,
	}, nil
}

// Opens a layering session on a base returned by Resolve.
func (b *Containerd) Open(ctx context.Context, base *Base, id, platform string) (Session, error) {
	s, err := b.Runtime.Open(ctx, base.image, id, platform)
	if err != nil {
		return nil, err
	}
	return &containerdSession{s: s}, nil
}

// Writes a finalized image to an OCI archive.
func (b *Containerd) Export(ctx context.Context, name, platform, path string) error {
	return b.Runtime.Export(ctx, name, platform, path)
}

type containerdSession struct {
	s *runtime.Session
}

func (c *containerdSession) Layer(ctx context.Context, createdBy string, fn func(Workspace) error) (digest.Digest, error) {
	layer, err := c.s.Layer(ctx, createdBy, func(ctr *runtime.Container) error {
		return fn(ctr)
	})
	if err != nil {
		return "", err
	}
	return layer.Descriptor.Digest, nil
}

func (c *containerdSession) Finalize(ctx context.Context, name string, configure func(*ocispec.ImageConfig)) (digest.Digest, error) {
	img, err := c.s.Finalize(ctx, name, configure)
	if err != nil {
		return "", err
	}
	return img.Digest, nil
}

func (c *containerdSession) Close(ctx context.Context) error {
	return c.s.Close(ctx)
}

// Connects to the containerd daemon described by cfg. The backend must be
// closed when no longer needed.
func Connect(cfg settings.Containerd) (*Containerd, error) {
	rt, err := runtime.New(cfg.Address, cfg.Namespace, cfg.Snapshotter)
	if err != nil {
		return nil, err
	}
	return &Containerd{
		Runtime:  rt,
		Resolver: &registry.Resolver{UserAgent: internal.UserAgent()},
	}, nil
}

// Closes the containerd connection.
func (b *Containerd) Close() error {
	return b.Runtime.Close()
}
