// Loads imgbuild settings from a TOML file.
//
// Settings hold the values that rarely change between invocations: where
// containerd listens, which namespace and snapshotter to use, the default
// target platform, and the base image substituted into the built-in recipe.
// A missing file is not an error; defaults apply. Command-line flags take
// precedence over anything loaded here.
//
// Example file:
//
//	[containerd]
//	address     = "/run/containerd/containerd.sock"
//	namespace   = "imgbuild"
//	snapshotter = "overlayfs"
//
//	[build]
//	platform = "linux/amd64"
//	base     = "python:3.12"
package settings
