package runtime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OCI runtime shim for running containers.
const ociRuntime = "io.containerd.runc.v2"

// Manages the containerd client and provides image and session operations.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	snapshotter string             // Snapshotter backing container filesystems.
}

// An image held in containerd's image store, scoped to one platform.
type Image struct {
	Name   string           // Image store name.
	Digest digest.Digest    // Digest of the root descriptor (index or manifest).
	image  containerd.Image // Underlying containerd image.
}

// Creates a runtime connected to the containerd socket at the given address.
//
// The namespace scopes all containerd operations to a single tenant. The
// snapshotter backs every container filesystem and every committed layer. The
// runtime must be closed when no longer needed.
func New(address, namespace, snapshotter string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}
	return &Runtime{client: client, snapshotter: snapshotter}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Pulls an image from its registry and unpacks it for the target platform.
//
// Only the content needed by the platform is fetched. The returned image is
// ready to be used as the base of a build session.
func (rt *Runtime) Pull(ctx context.Context, ref, platform string) (*Image, error) {
	pulled, err := rt.client.Pull(ctx, ref,
		containerd.WithPlatform(platform),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPull, ref, err)
	}

	img, err := rt.image(ctx, pulled.Name(), platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	slog.Debug("image pulled", "ref", ref, "digest", img.Digest)
	return img, nil
}

// Imports an OCI archive to serve as a build base.
//
// The archive is imported into containerd's content store and tagged with a
// deterministic name derived from the path, then unpacked for the target
// platform.
func (rt *Runtime) ImportBase(ctx context.Context, path, platform string) (*Image, error) {
	tag := imageTag(path)

	source, err := rt.importArchive(ctx, path)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	if err := putImage(ctx, rt.client.ImageService(), images.Image{Name: tag, Target: source.Target}); err != nil {
		return nil, wrap(ErrRuntime, err)
	}
	if source.Name != tag {
		if err := rt.client.ImageService().Delete(ctx, source.Name); err != nil && !errdefs.IsNotFound(err) {
			slog.Warn("failed to remove imported image record", "name", source.Name, "error", err)
		}
	}

	img, err := rt.image(ctx, tag, platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	if err := img.image.Unpack(ctx, rt.snapshotter); err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	slog.Debug("image imported", "path", path, "tag", tag)
	return img, nil
}

// Imports an OCI archive into the content store.
//
// The archive must contain exactly one image. Multi-platform archives are
// supported (single OCI index with per-platform manifests).
func (rt *Runtime) importArchive(ctx context.Context, path string) (images.Image, error) {
	fh, err := os.Open(path)
	if err != nil {
		return images.Image{}, err
	}
	defer fh.Close()

	imported, err := rt.client.Import(ctx, fh)
	if err != nil {
		return images.Image{}, err
	}

	// One record per entry of index.json. Platform selection happens later,
	// so several records mean several unrelated images.
	switch {
	case len(imported) == 0:
		return images.Image{}, ErrEmptyArchive
	case len(imported) > 1:
		return images.Image{}, ErrMultipleImages
	}

	return imported[0], nil
}

// Looks up an image by name and scopes it to the given platform.
func (rt *Runtime) image(ctx context.Context, name, platform string) (*Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, err
	}

	record, err := rt.client.ImageService().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	return &Image{
		Name:   record.Name,
		Digest: record.Target.Digest,
		image:  containerd.NewImageWithPlatform(rt.client, record, platforms.Only(p)),
	}, nil
}

// Reads the runtime config of the image for its platform.
func (i *Image) Config(ctx context.Context) (ocispec.ImageConfig, error) {
	spec, err := i.image.Spec(ctx)
	if err != nil {
		return ocispec.ImageConfig{}, wrap(ErrRuntime, err)
	}
	return spec.Config, nil
}

// Removes an image record. Content only referenced by the image becomes
// eligible for garbage collection, which runs before this returns.
func (rt *Runtime) DestroyImage(ctx context.Context, name string) error {
	if err := rt.client.ImageService().Delete(ctx, name, images.SynchronousDelete()); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrImageNotFound, name)
		}
		return wrap(ErrRuntime, err)
	}
	slog.Info("image removed", "name", name)
	return nil
}

// Creates an image record, or retargets it when the name is taken.
func putImage(ctx context.Context, is images.Store, img images.Image) error {
	if _, err := is.Create(ctx, img); err != nil {
		if !errdefs.IsAlreadyExists(err) {
			return err
		}
		if _, err := is.Update(ctx, img, "target", "labels"); err != nil {
			return err
		}
	}
	return nil
}

// Produces a containerd image name from an archive path.
//
// The path is hashed so that the name is a valid reference regardless of
// which characters the path contains.
func imageTag(path string) string {
	h := sha256.Sum256([]byte(path))
	return fmt.Sprintf("import/%s:latest", hex.EncodeToString(h[:]))
}
