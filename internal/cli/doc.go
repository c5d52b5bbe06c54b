// Parses flags and runs the imgbuild commands.
//
// Every command accepts the following flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-c, --config    Settings file path.
//	-s, --socket    Daemon Unix socket path.
//
// Flags override build-time defaults set via linker flags, and settings from
// the settings file. After parsing, the global logger is reconfigured to
// reflect the final level and verbosity before the command runs.
package cli
