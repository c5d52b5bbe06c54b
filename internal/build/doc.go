// Package build executes recipes against a container backend.
//
// A build is a linear chain: the base image is resolved, every instruction
// of the recipe runs once in declaration order, and the result is finalized
// into an image with exactly one default command. COPY, ADD and RUN each
// append one filesystem layer; ENV, WORKDIR, LABEL, CMD and ENTRYPOINT only
// update the state that later steps and the final image config inherit.
//
// Failures stop the chain at the failing step and are reported as a
// [*StepError] naming that step. The error also matches one of the class
// sentinels: [ErrResolution] when the base image cannot be fetched,
// [ErrIngestion] when a source path is missing from the build context, and
// [ErrInstallation] when a RUN command exits non-zero. Nothing is retried,
// and a failed build never binds a default command.
//
// Container operations go through the [Backend] interface. [Containerd]
// implements it on top of the runtime and registry packages.
//
// Example usage:
//
//	rec, err := recipe.Default("python:3")
//	if err != nil {
//	    return err
//	}
//
//	result, err := build.Run(ctx, backend, build.Options{
//	    Recipe:  rec,
//	    Context: ".",
//	    Tag:     "localhost/example:latest",
//	    Output:  "dist",
//	})
//	if err != nil {
//	    return err
//	}
package build
