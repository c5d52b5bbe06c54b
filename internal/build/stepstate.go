package build

import (
	"maps"
	"path"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/imgbuild/internal/recipe"
)

// Working directory used when neither the recipe nor the base sets one.
const defaultWorkdir = "/"

// Tracks the metadata instructions seen so far.
//
// State flows linearly through the instruction list. ENV, WORKDIR and LABEL
// affect every later step and the final image; CMD and ENTRYPOINT only affect
// the final image. A later instruction of the same kind overrides an earlier
// one, key by key for ENV and LABEL.
type stepState struct {
	workdir       string            // Absolute working directory, empty until the base or a WORKDIR sets one.
	env           []recipe.KeyValue // Environment overrides, in first-declaration order.
	labels        map[string]string
	entrypoint    []string
	entrypointSet bool
	cmd           []string
	cmdSet        bool
}

// Creates a new [stepState] with nothing declared.
func newStepState() *stepState {
	return &stepState{labels: make(map[string]string)}
}

// Starts from the working directory declared by the base image. Empty and
// relative values are ignored.
func (s *stepState) inherit(workdir string) {
	if path.IsAbs(workdir) {
		s.workdir = path.Clean(workdir)
	}
}

// Records a metadata instruction. Layer instructions are ignored.
func (s *stepState) apply(ins recipe.Instruction) {
	switch ins.Kind {
	case recipe.KindEnv:
		for _, kv := range ins.Pairs {
			s.setEnv(kv)
		}
	case recipe.KindLabel:
		for _, kv := range ins.Pairs {
			s.labels[kv.Key] = kv.Value
		}
	case recipe.KindWorkdir:
		s.workdir = s.resolve(ins.Args[0])
	case recipe.KindCmd:
		s.cmd = ins.Command()
		s.cmdSet = true
	case recipe.KindEntrypoint:
		s.entrypoint = ins.Command()
		s.entrypointSet = true
	}
}

func (s *stepState) setEnv(kv recipe.KeyValue) {
	for i := range s.env {
		if s.env[i].Key == kv.Key {
			s.env[i].Value = kv.Value
			return
		}
	}
	s.env = append(s.env, kv)
}

// Makes p absolute against the current working directory.
func (s *stepState) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(s.dir(), p)
}

// Working directory for steps, falling back to [defaultWorkdir].
func (s *stepState) dir() string {
	if s.workdir == "" {
		return defaultWorkdir
	}
	return s.workdir
}

// Formats the environment overrides as "key=value" strings suitable for
// passing to container exec.
func (s *stepState) environ() []string {
	env := make([]string, 0, len(s.env))
	for _, kv := range s.env {
		env = append(env, kv.Key+"="+kv.Value)
	}
	return env
}

// Applies the accumulated state to the base image's runtime config.
//
// An ENTRYPOINT without a CMD in the same recipe clears the cmd inherited
// from the base, so that the base's default arguments are not passed to an
// unrelated program.
func (s *stepState) configure(cfg *ocispec.ImageConfig) {
	cfg.Env = overlayEnv(cfg.Env, s.env)

	if s.workdir != "" {
		cfg.WorkingDir = s.workdir
	}

	if len(s.labels) > 0 {
		if cfg.Labels == nil {
			cfg.Labels = make(map[string]string, len(s.labels))
		}
		maps.Copy(cfg.Labels, s.labels)
	}

	if s.entrypointSet {
		cfg.Entrypoint = s.entrypoint
		if !s.cmdSet {
			cfg.Cmd = nil
		}
	}
	if s.cmdSet {
		cfg.Cmd = s.cmd
	}
}

// Overlays key-value pairs on a "key=value" list. Existing keys keep their
// position; new keys are appended in order.
func overlayEnv(base []string, overrides []recipe.KeyValue) []string {
	out := append([]string(nil), base...)
	for _, kv := range overrides {
		entry := kv.Key + "=" + kv.Value
		replaced := false
		for i, e := range out {
			if k, _, _ := strings.Cut(e, "="); k == kv.Key {
				out[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, entry)
		}
	}
	return out
}
