package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/leases"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/errdefs"
	"github.com/hashicorp/go-multierror"
	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/identity"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Upper bound on how long an abandoned session keeps its snapshots and
// blobs. Sessions normally release the lease on Close well before this.
const leaseExpiration = 24 * time.Hour

// A filesystem layer committed by a build step.
type Layer struct {
	Descriptor ocispec.Descriptor // Compressed layer blob in the content store.
	DiffID     digest.Digest      // Digest of the uncompressed layer.
	CreatedBy  string             // Instruction that produced the layer, for image history.
}

// Layers filesystem changes on top of a base image.
//
// Steps run strictly in order: each layer is prepared on the snapshot
// committed by the previous one, starting from the base image's root
// filesystem. All snapshots and blobs written by the session are held by a
// containerd lease until [Session.Close].
type Session struct {
	rt       *Runtime     // Runtime the session was opened on.
	id       string       // Session identifier, prefixes snapshot and container names.
	platform string       // OCI platform the base was unpacked for.
	base     *Image       // Image the session builds on.
	lease    leases.Lease // Lease protecting intermediate content.
	parent   string       // Committed snapshot the next layer is prepared on.
	layers   []Layer      // Layers committed so far, in order.
	seq      int          // Number of layers attempted.
	closed   bool
}

// Opens a build session on a base image.
//
// The base must have been unpacked for platform, which [Runtime.Pull] and
// [Runtime.ImportBase] both do.
func (rt *Runtime) Open(ctx context.Context, base *Image, id, platform string) (*Session, error) {
	lease, err := rt.client.LeasesService().Create(ctx,
		leases.WithID(id),
		leases.WithExpiration(leaseExpiration),
	)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	s := &Session{
		rt:       rt,
		id:       id,
		platform: platform,
		base:     base,
		lease:    lease,
	}

	diffIDs, err := base.image.RootFS(s.leased(ctx))
	if err != nil {
		s.Close(ctx)
		return nil, wrap(ErrRuntime, err)
	}
	s.parent = identity.ChainID(diffIDs).String()

	slog.Debug("session opened", "id", id, "base", base.Name, "parent", s.parent)
	return s, nil
}

// Runs fn in a fresh container and commits its filesystem changes as a layer.
//
// A new active snapshot is prepared on the previous layer and a container is
// started on it. When fn returns nil the container is stopped, the snapshot
// diffed against its parent, and committed so the next layer builds on it.
// When fn fails the snapshot is discarded and nothing is committed.
func (s *Session) Layer(ctx context.Context, createdBy string, fn func(*Container) error) (*Layer, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	ctx = s.leased(ctx)
	s.seq++

	key := fmt.Sprintf("%s-step-%d", s.id, s.seq)
	sn := s.rt.client.SnapshotService(s.rt.snapshotter)
	if _, err := sn.Prepare(ctx, key, s.parent); err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	ctr := &Container{
		client:      s.rt.client,
		id:          key,
		platform:    s.platform,
		snapshotter: s.rt.snapshotter,
	}

	// Cleanup must survive cancellation of the step itself.
	detached := context.WithoutCancel(ctx)

	record, err := ctr.create(ctx, s.base.image)
	if err != nil {
		if err := sn.Remove(detached, key); err != nil && !errdefs.IsNotFound(err) {
			slog.Warn("failed to remove step snapshot", "key", key, "error", err)
		}
		return nil, wrap(ErrRuntime, err)
	}

	if err := ctr.startTask(ctx, record); err != nil {
		ctr.destroy(detached, true)
		return nil, wrap(ErrRuntime, err)
	}

	if err := fn(ctr); err != nil {
		ctr.destroy(detached, true)
		return nil, err
	}

	if err := ctr.stop(ctx); err != nil {
		ctr.destroy(detached, true)
		return nil, err
	}

	layer, err := s.commit(ctx, ctr, key, createdBy)
	if err != nil {
		ctr.destroy(detached, true)
		return nil, wrap(ErrRuntime, err)
	}

	return layer, nil
}

// Diffs the active snapshot against its parent and commits it.
//
// The container record is removed before the commit because committing
// consumes the active snapshot key it refers to.
func (s *Session) commit(ctx context.Context, ctr *Container, key, createdBy string) (*Layer, error) {
	sn := s.rt.client.SnapshotService(s.rt.snapshotter)

	desc, err := rootfs.CreateDiff(ctx, key, sn, s.rt.client.DiffService())
	if err != nil {
		return nil, err
	}

	diffID, err := images.GetDiffID(ctx, s.rt.client.ContentStore(), desc)
	if err != nil {
		return nil, err
	}

	ctr.destroy(ctx, false)

	name := fmt.Sprintf("%s-layer-%d", s.id, s.seq)
	if err := sn.Commit(ctx, name, key); err != nil {
		return nil, err
	}
	s.parent = name

	layer := Layer{Descriptor: desc, DiffID: diffID, CreatedBy: createdBy}
	s.layers = append(s.layers, layer)

	slog.Debug("layer committed", "snapshot", name, "digest", desc.Digest, "size", desc.Size)
	return &layer, nil
}

// Releases the session's lease.
//
// Committed snapshots and blobs not referenced by a finalized image become
// eligible for garbage collection. Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true

	var result *multierror.Error

	sn := s.rt.client.SnapshotService(s.rt.snapshotter)
	for i := s.seq; i >= 1; i-- {
		name := fmt.Sprintf("%s-layer-%d", s.id, i)
		if err := sn.Remove(ctx, name); err != nil && !errdefs.IsNotFound(err) {
			result = multierror.Append(result, err)
		}
	}

	if err := s.rt.client.LeasesService().Delete(ctx, s.lease); err != nil && !errdefs.IsNotFound(err) {
		result = multierror.Append(result, err)
	}

	if err := result.ErrorOrNil(); err != nil {
		return wrap(ErrRuntime, err)
	}
	return nil
}

// Returns ctx bound to the session lease.
func (s *Session) leased(ctx context.Context) context.Context {
	return leases.WithLease(ctx, s.lease.ID)
}
