// Package runtime manages images, build sessions and containers backed by
// containerd.
//
// A [Runtime] connects to a containerd daemon. Base images are pulled from a
// registry with [Runtime.Pull] or imported from an OCI archive with
// [Runtime.ImportBase]; either way they are unpacked for the target platform
// so their root filesystem is available as a committed snapshot.
//
// A [Session] layers changes on top of a base image. Each call to
// [Session.Layer] prepares a fresh snapshot on the previous one, starts a
// container on it, lets the caller copy files and execute commands, and then
// diffs and commits the snapshot as one immutable layer. [Session.Finalize]
// writes a manifest and config referencing the base layers plus the new ones
// and records the result in containerd's image store; [Runtime.Export] writes
// it out as an OCI archive. All intermediate snapshots belong to the
// session's lease and are released to the garbage collector on
// [Session.Close].
//
// [Runtime.Run] instantiates a stored image with its default command and
// returns the process exit code.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "imgbuild", "overlayfs")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	base, err := rt.Pull(ctx, "docker.io/library/python:3", "linux/amd64")
//	if err != nil {
//	    return err
//	}
//
//	s, err := rt.Open(ctx, base, "build-1")
//	if err != nil {
//	    return err
//	}
//	defer s.Close(ctx)
//
//	_, err = s.Layer(ctx, "RUN pip install requests", func(ctr *runtime.Container) error {
//	    _, err := ctr.Exec(ctx, []string{"pip", "install", "requests"}, nil, "")
//	    return err
//	})
package runtime
