package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	programName = "imgbuild"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644

	// Name of the archive written to a build's output directory.
	ImageArchive = "image.tar"
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/imgbuild or /run/user/<uid>/imgbuild
//	macOS:   ~/Library/Caches/imgbuild/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, programName)
	}
	return filepath.Join(xdg.CacheHome, programName, "run")
}

// Default path to the Unix domain socket of the build daemon.
//
//	Linux:   $XDG_RUNTIME_DIR/imgbuild/imgbuild.sock
//	macOS:   ~/Library/Caches/imgbuild/run/imgbuild.sock
func Socket() string {
	return filepath.Join(Runtime(), programName+".sock")
}

// Default path to the daemon PID file.
func PIDFile() string {
	return filepath.Join(Runtime(), programName+".pid")
}

// Default path to the settings file.
//
//	Linux:   $XDG_CONFIG_HOME/imgbuild/config.toml
//	macOS:   ~/Library/Application Support/imgbuild/config.toml
func Settings() string {
	return filepath.Join(xdg.ConfigHome, programName, "config.toml")
}

// Path of the image archive inside an output directory.
func Archive(output string) string {
	return filepath.Join(output, ImageArchive)
}
