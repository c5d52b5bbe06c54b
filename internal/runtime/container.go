package runtime

import (
	"context"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// A container running one build step on top of a prepared snapshot.
//
// The container's primary process only keeps the task alive; work happens
// in additional exec processes started by [Container.Exec], [Container.CopyTo]
// and [Container.MkdirAll].
type Container struct {
	client      *containerd.Client // Containerd client for managing the container.
	id          string             // Containerd container ID, also the key of its active snapshot.
	platform    string             // OCI platform (e.g., "linux/amd64").
	snapshotter string             // Snapshotter holding the container's snapshot.
}

// Creates the containerd container on an already prepared snapshot.
//
// The process spec is derived from the image config so that exec processes
// inherit the base image's environment and user.
func (c *Container) create(ctx context.Context, image containerd.Image) (containerd.Container, error) {
	return c.client.NewContainer(ctx, c.id,
		containerd.WithImageName(image.Name()),
		containerd.WithSnapshotter(c.snapshotter),
		containerd.WithSnapshot(c.id),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(c.platform),
			oci.WithImageConfig(image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
			oci.WithProcessArgs("sleep", "infinity"),
		),
	)
}

// Starts the container's long-running task with no attached IO.
func (c *Container) startTask(ctx context.Context, ctr containerd.Container) error {
	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return err
	}
	if err := task.Start(ctx); err != nil {
		task.Delete(ctx)
		return err
	}
	return nil
}

// Kills and deletes the container's task, keeping the container record and
// its snapshot. Calling stop on a container without a task is not an error.
func (c *Container) stop(ctx context.Context) error {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return wrap(ErrRuntime, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return wrap(ErrRuntime, err)
	}

	task.Kill(ctx, syscall.SIGKILL)
	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return wrap(ErrRuntime, err)
	}

	return nil
}

// Removes the container and, when cleanup is set, its snapshot.
//
// Failures are logged rather than returned; removal runs on paths that are
// already reporting a more relevant error.
func (c *Container) destroy(ctx context.Context, cleanup bool) {
	ctr, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("failed to load container for destruction", "id", c.id, "error", err)
		}
		return
	}

	if task, err := ctr.Task(ctx, nil); err == nil {
		task.Kill(ctx, syscall.SIGKILL)
		task.Delete(ctx, containerd.WithProcessKill)
	}

	var opts []containerd.DeleteOpts
	if cleanup {
		opts = append(opts, containerd.WithSnapshotCleanup)
	}
	if err := ctr.Delete(ctx, opts...); err != nil && !errdefs.IsNotFound(err) {
		slog.Warn("failed to delete container", "id", c.id, "error", err)
	}
}
