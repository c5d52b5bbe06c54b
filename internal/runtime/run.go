package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"syscall"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/containerd/v2/pkg/cio"
	"github.com/containerd/containerd/v2/pkg/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Instantiates a stored image and runs its default command to completion.
//
// The container's process is exactly the image's entrypoint followed by its
// cmd, with the image's environment and nothing added. Standard output and
// error are streamed to stdout and stderr. The process exit code is returned
// as is; a non-zero code is not an error. Cancelling ctx kills the process.
// The container and its snapshot are removed before returning.
func (rt *Runtime) Run(ctx context.Context, name, id, platform string, stdout, stderr io.Writer) (int, error) {
	img, err := rt.image(ctx, name, platform)
	if errdefs.IsNotFound(err) {
		return 0, fmt.Errorf("%w: %s", ErrImageNotFound, name)
	}
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	if err := img.image.Unpack(ctx, rt.snapshotter); err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	c := &Container{client: rt.client, id: id, platform: platform, snapshotter: rt.snapshotter}
	c.destroy(ctx, true)

	record, err := rt.client.NewContainer(ctx, id,
		containerd.WithImage(img.image),
		containerd.WithSnapshotter(rt.snapshotter),
		containerd.WithNewSnapshot(id, img.image),
		containerd.WithRuntime(ociRuntime, nil),
		containerd.WithNewSpec(
			oci.WithDefaultSpecForPlatform(platform),
			oci.WithImageConfig(img.image),
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostResolvconf,
		),
	)
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}
	defer c.destroy(context.WithoutCancel(ctx), true)

	task, err := record.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, stdout, stderr)))
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	statusC, err := task.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	if err := task.Start(ctx); err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", name, "pid", task.Pid())

	var status containerd.ExitStatus
	select {
	case status = <-statusC:
	case <-ctx.Done():
		task.Kill(context.WithoutCancel(ctx), syscall.SIGKILL)
		status = <-statusC
	}

	code, _, err := status.Result()
	if err != nil {
		return 0, wrap(ErrRuntime, err)
	}

	return int(code), nil
}
