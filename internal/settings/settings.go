package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	goruntime "runtime"

	"github.com/pelletier/go-toml/v2"
)

const (

	// Default containerd socket address.
	DefaultContainerdAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images, containers and snapshots.
	DefaultContainerdNamespace = "imgbuild"

	// Default snapshotter. fuse-overlayfs provides overlay semantics without
	// requiring root privileges.
	DefaultSnapshotter = "fuse-overlayfs"

	// Base image of the built-in recipe.
	DefaultBase = "python:3"
)

var ErrSettings = errors.New("invalid settings")

// Containerd connection settings.
type Containerd struct {
	Address     string `toml:"address"`
	Namespace   string `toml:"namespace"`
	Snapshotter string `toml:"snapshotter"`
}

// Build defaults.
type Build struct {
	Platform string `toml:"platform"`
	Base     string `toml:"base"`
}

// Top-level settings document.
type Settings struct {
	Containerd Containerd `toml:"containerd"`
	Build      Build      `toml:"build"`
}

// Returns the settings used when no file is present.
func Default() Settings {
	return Settings{
		Containerd: Containerd{
			Address:     DefaultContainerdAddress,
			Namespace:   DefaultContainerdNamespace,
			Snapshotter: DefaultSnapshotter,
		},
		Build: Build{
			Platform: "linux/" + goruntime.GOARCH,
			Base:     DefaultBase,
		},
	}
}

// Reads settings from path, layering them over [Default].
//
// A missing file yields the defaults. Unknown keys are rejected so that a
// typo does not silently fall back to a default.
func Load(path string) (Settings, error) {
	s := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("%w: %w", ErrSettings, err)
	}

	if err := Decode(data, &s); err != nil {
		return Default(), fmt.Errorf("%w: %s: %w", ErrSettings, path, err)
	}

	return s, nil
}

// Decodes a TOML document into s. Fields absent from the document keep
// their current values.
func Decode(data []byte, s *Settings) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(s)
}
