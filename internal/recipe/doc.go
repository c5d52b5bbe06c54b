// Package recipe reads build recipes written in Dockerfile syntax.
//
// A recipe names one base image and an ordered list of instructions. Parsing
// is delegated to the BuildKit Dockerfile parser; this package walks the
// resulting syntax tree, keeps the single-stage subset the build engine
// executes, and rejects everything else with a line-numbered error.
//
// Supported instructions are FROM, COPY, ADD (local sources), RUN, CMD,
// ENTRYPOINT, WORKDIR, ENV and LABEL. Exactly one FROM is allowed and it must
// come first.
//
// When a build context carries no recipe, [Default] supplies the built-in
// one: copy the context to /src, copy requirements.txt, install it with pip
// and run /src/python-example.py with the python interpreter.
package recipe
