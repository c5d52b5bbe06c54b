package protocol

// Asks the daemon to run a build.
//
// Recipe holds the recipe source. When it is empty the built-in recipe is
// used with Base, or the daemon's default base when Base is empty too.
type BuildRequest struct {
	Recipe   string `json:"recipe,omitempty"`
	Base     string `json:"base,omitempty"`
	Context  string `json:"context"`
	Tag      string `json:"tag,omitempty"`
	Output   string `json:"output,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// Outcome of a successful build.
type BuildResult struct {
	ID         string   `json:"id"`
	Image      string   `json:"image"`
	Digest     string   `json:"digest"`
	Base       string   `json:"base"`
	BaseDigest string   `json:"baseDigest"`
	Layers     []string `json:"layers"`
	Entrypoint []string `json:"entrypoint,omitempty"`
	Cmd        []string `json:"cmd,omitempty"`
	Output     string   `json:"output,omitempty"`
}

// Daemon state.
type StatusResult struct {
	Running  bool   `json:"running"`
	Version  string `json:"version"`
	Pid      int    `json:"pid"`
	Uptime   string `json:"uptime"`
	Builds   int    `json:"builds"`
	Building bool   `json:"building"`
}

// Failure of a request.
//
// For build failures Step is the 1-based failing step and Class names the
// failure class ("resolution", "ingestion", "installation", "finalize").
type ErrorResult struct {
	Message string `json:"message"`
	Step    int    `json:"step,omitempty"`
	Class   string `json:"class,omitempty"`
}

func (e *ErrorResult) Error() string {
	return e.Message
}
