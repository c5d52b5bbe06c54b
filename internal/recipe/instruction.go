package recipe

import (
	"fmt"
	"strings"
)

// Instruction keyword.
type Kind string

const (
	KindCopy       Kind = "COPY"
	KindAdd        Kind = "ADD"
	KindRun        Kind = "RUN"
	KindCmd        Kind = "CMD"
	KindEntrypoint Kind = "ENTRYPOINT"
	KindWorkdir    Kind = "WORKDIR"
	KindEnv        Kind = "ENV"
	KindLabel      Kind = "LABEL"
)

// A single key-value pair from an ENV or LABEL instruction.
type KeyValue struct {
	Key   string
	Value string
}

// One executable line of a recipe.
type Instruction struct {
	Kind     Kind       // Instruction keyword.
	Line     int        // 1-based line in the recipe source.
	Original string     // Source text, used in diagnostics and image history.
	Args     []string   // Command (RUN, CMD, ENTRYPOINT), sources then destination (COPY, ADD), or path (WORKDIR).
	Shell    bool       // Command was written in shell form rather than JSON form.
	Pairs    []KeyValue // Assignments (ENV, LABEL), in declaration order.
}

// Whether executing the instruction appends a filesystem layer.
func (i Instruction) ProducesLayer() bool {
	switch i.Kind {
	case KindCopy, KindAdd, KindRun:
		return true
	}
	return false
}

// Whether the instruction copies files from the build context.
func (i Instruction) Ingests() bool {
	return i.Kind == KindCopy || i.Kind == KindAdd
}

// Source paths of a COPY or ADD instruction.
func (i Instruction) Sources() []string {
	if !i.Ingests() || len(i.Args) < 2 {
		return nil
	}
	return i.Args[:len(i.Args)-1]
}

// Destination path of a COPY or ADD instruction.
func (i Instruction) Dest() string {
	if !i.Ingests() || len(i.Args) < 2 {
		return ""
	}
	return i.Args[len(i.Args)-1]
}

// Command as it should be executed. Shell-form commands are wrapped in
// "/bin/sh -c".
func (i Instruction) Command() []string {
	if i.Shell {
		return []string{"/bin/sh", "-c", strings.Join(i.Args, " ")}
	}
	return append([]string(nil), i.Args...)
}

// Returns the source text when known, otherwise a rendering of the parsed
// fields.
func (i Instruction) String() string {
	if i.Original != "" {
		return i.Original
	}
	switch {
	case len(i.Pairs) > 0:
		parts := make([]string, len(i.Pairs))
		for n, kv := range i.Pairs {
			parts[n] = kv.Key + "=" + kv.Value
		}
		return fmt.Sprintf("%s %s", i.Kind, strings.Join(parts, " "))
	case i.Shell:
		return fmt.Sprintf("%s %s", i.Kind, strings.Join(i.Args, " "))
	default:
		return fmt.Sprintf("%s %q", i.Kind, i.Args)
	}
}
