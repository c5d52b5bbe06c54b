package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/platforms"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Writes the image for the session's layers and records it under name.
//
// The base image's manifest and config are read, the session's layers and
// their history entries appended, and configure applied to the runtime config
// (entrypoint, cmd, env, working directory, labels). The new manifest and
// config are written to the content store with garbage-collection labels
// that keep every layer reachable, and the image store record for name is
// created or retargeted. The base image record is never modified.
func (s *Session) Finalize(ctx context.Context, name string, configure func(*ocispec.ImageConfig)) (*Image, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	ctx = s.leased(ctx)
	cs := s.rt.client.ContentStore()
	now := time.Now().UTC()

	root := s.base.image.Target()
	target, index, err := resolveManifest(ctx, cs, root, s.platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	manifestDesc, err := s.writeManifest(ctx, target, name, func(manifest *ocispec.Manifest, config *ocispec.Image) {
		for _, layer := range s.layers {
			manifest.Layers = append(manifest.Layers, layer.Descriptor)
			config.RootFS.DiffIDs = append(config.RootFS.DiffIDs, layer.DiffID)
			config.History = append(config.History, ocispec.History{
				Created:   &now,
				CreatedBy: layer.CreatedBy,
			})
		}
		if manifest.Annotations == nil {
			manifest.Annotations = map[string]string{}
		}
		manifest.Annotations[ocispec.AnnotationBaseImageName] = s.base.Name
		manifest.Annotations[ocispec.AnnotationBaseImageDigest] = s.base.Digest.String()
		config.Created = &now
		configure(&config.Config)
	})
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	// Entries for other platforms are dropped: only the target platform's
	// layers were fetched.
	finalDesc := manifestDesc
	if index != nil {
		index.Manifests = []ocispec.Descriptor{manifestDesc}
		finalDesc, err = writeBlob(ctx, cs, root.MediaType, index, name+"-index", content.WithLabels(indexGCLabels(*index)))
		if err != nil {
			return nil, wrap(ErrRuntime, err)
		}
	}

	if err := putImage(ctx, s.rt.client.ImageService(), images.Image{Name: name, Target: finalDesc}); err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	img, err := s.rt.image(ctx, name, s.platform)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	slog.Debug("image finalized", "name", name, "digest", img.Digest, "layers", len(s.layers))
	return img, nil
}

// Reads the manifest and config behind target, applies mutate, and writes
// both back as new blobs. Returns the new manifest descriptor.
func (s *Session) writeManifest(ctx context.Context, target ocispec.Descriptor, name string, mutate func(*ocispec.Manifest, *ocispec.Image)) (ocispec.Descriptor, error) {
	cs := s.rt.client.ContentStore()

	manifest, err := readJSON[ocispec.Manifest](ctx, cs, target)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	config, err := readJSON[ocispec.Image](ctx, cs, manifest.Config)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &config)

	configDesc, err := writeBlob(ctx, cs, manifest.Config.MediaType, config, name+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = configDesc

	desc, err := writeBlob(ctx, cs, target.MediaType, manifest, name+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc.Platform = target.Platform
	return desc, nil
}

// Writes a stored image to an OCI tar archive at path.
//
// Only the manifest for platform is included. The archive also carries a
// Docker-compatible manifest.json so that tools reading either format can
// load it.
func (rt *Runtime) Export(ctx context.Context, name, platform, path string) error {
	p, err := platforms.Parse(platform)
	if err != nil {
		return wrap(ErrRuntime, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return wrap(ErrRuntime, err)
	}
	defer f.Close()

	if err := rt.client.Export(ctx, f,
		archive.WithImage(rt.client.ImageService(), name),
		archive.WithPlatform(platforms.Only(p)),
	); err != nil {
		return wrap(ErrRuntime, err)
	}

	slog.Info("image exported", "path", path)
	return nil
}

// Resolves an image root descriptor to the manifest for platform.
//
// When root is an index, the index is returned alongside the chosen manifest
// so that the caller can rewrite it. Some registries (notably Docker Hub)
// serve index entries without platform metadata; such entries are matched by
// reading the platform from their image config.
func resolveManifest(ctx context.Context, cs content.Store, root ocispec.Descriptor, platform string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	idx, err := readJSON[ocispec.Index](ctx, cs, root)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := matchManifest(ctx, cs, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, fmt.Errorf("%w: %s", ErrEmptyIndex, root.Digest)
	}
	return idx.Manifests[0], &idx, nil
}

// Searches an index for a manifest matching the platform. Entries with
// explicit platform metadata are preferred over entries probed through their
// config.
func matchManifest(ctx context.Context, cs content.Store, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := configPlatform(ctx, cs, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the platform declared in the config of a manifest.
func configPlatform(ctx context.Context, cs content.Store, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	manifest, err := readJSON[ocispec.Manifest](ctx, cs, desc)
	if err != nil {
		return ocispec.Platform{}, false
	}
	config, err := readJSON[ocispec.Image](ctx, cs, manifest.Config)
	if err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads a JSON blob from the content store.
func readJSON[T any](ctx context.Context, cs content.Provider, desc ocispec.Descriptor) (T, error) {
	var v T
	b, err := content.ReadBlob(ctx, cs, desc)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, err
	}
	return v, nil
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func writeBlob(ctx context.Context, cs content.Ingester, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, cs, ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children, so the
// garbage collector can trace reachability from the manifest to its config
// and layer blobs.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)] = m.Digest.String()
	}
	return labels
}
