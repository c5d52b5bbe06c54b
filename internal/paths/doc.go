// Provides platform-appropriate paths for imgbuild.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS. The program name "imgbuild" is used as the subdirectory under
// each base path. The daemon socket and PID file live under the runtime
// directory, the settings file under the config directory.
package paths
