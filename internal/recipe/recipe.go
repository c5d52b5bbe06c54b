package recipe

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/moby/buildkit/frontend/dockerfile/instructions"
	"github.com/moby/buildkit/frontend/dockerfile/parser"
)

// Conventional file name of a recipe inside a build context.
const Filename = "Dockerfile"

// A parsed single-stage recipe.
type Recipe struct {
	Base         string        // Base image reference, as written after FROM.
	BaseLine     int           // Line of the FROM instruction.
	Instructions []Instruction // Instructions after FROM, in order.
	Required     []string      // Context-relative paths that must exist before ingestion.
}

// Number of instructions that append a filesystem layer.
func (r *Recipe) Layers() int {
	n := 0
	for _, ins := range r.Instructions {
		if ins.ProducesLayer() {
			n++
		}
	}
	return n
}

// Reads and parses the recipe at path.
func ParseFile(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return Parse(bytes.NewReader(data))
}

// Parses a recipe in Dockerfile syntax.
func Parse(r io.Reader) (*Recipe, error) {
	result, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	rec := &Recipe{}
	for _, node := range result.AST.Children {
		if err := rec.add(node); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.StartLine, err)
		}
	}

	if rec.Base == "" {
		return nil, ErrNoBase
	}

	return rec, nil
}

// Converts one syntax tree node and appends it to the recipe.
func (r *Recipe) add(node *parser.Node) error {
	kind := Kind(strings.ToUpper(node.Value))

	if kind == "FROM" {
		return r.setBase(node)
	}
	if r.Base == "" {
		return fmt.Errorf("%w: %s before FROM", ErrNoBase, kind)
	}

	if len(node.Heredocs) > 0 {
		return fmt.Errorf("%w: heredocs in %s", ErrUnsupported, kind)
	}

	ins := Instruction{
		Kind:     kind,
		Line:     node.StartLine,
		Original: strings.TrimSpace(node.Original),
	}

	var err error
	switch kind {
	case KindCopy, KindAdd:
		err = parseCopy(node, &ins)
	case KindRun, KindCmd, KindEntrypoint:
		err = parseCommand(node, &ins)
	case KindWorkdir:
		err = parseWorkdir(node, &ins)
	case KindEnv, KindLabel:
		err = parsePairs(node, &ins)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupported, node.Value)
	}
	if err != nil {
		return err
	}

	r.Instructions = append(r.Instructions, ins)
	return nil
}

// Records the base image. Only the first FROM is accepted.
func (r *Recipe) setBase(node *parser.Node) error {
	if r.Base != "" {
		return ErrMultiStage
	}
	if len(node.Flags) > 0 {
		return fmt.Errorf("%w: FROM %s", ErrUnsupported, strings.Join(node.Flags, " "))
	}

	args := values(node)
	switch {
	case len(args) == 1:
	case len(args) == 3 && strings.EqualFold(args[1], "as"):
	default:
		return fmt.Errorf("%w: FROM requires an image reference", ErrArguments)
	}

	r.Base = args[0]
	r.BaseLine = node.StartLine
	return nil
}

// Fills the sources and destination of a COPY or ADD instruction.
func parseCopy(node *parser.Node, ins *Instruction) error {
	if len(node.Flags) > 0 {
		return fmt.Errorf("%w: %s %s", ErrUnsupported, ins.Kind, strings.Join(node.Flags, " "))
	}

	args := values(node)
	if len(args) < 2 {
		return fmt.Errorf("%w: %s requires at least one source and a destination", ErrArguments, ins.Kind)
	}

	for _, src := range args[:len(args)-1] {
		if isRemote(src) {
			return fmt.Errorf("%w: remote source %q", ErrUnsupported, src)
		}
	}

	ins.Args = args
	return nil
}

// Fills the command of a RUN, CMD or ENTRYPOINT instruction.
func parseCommand(node *parser.Node, ins *Instruction) error {
	if len(node.Flags) > 0 {
		return fmt.Errorf("%w: %s %s", ErrUnsupported, ins.Kind, strings.Join(node.Flags, " "))
	}

	args := values(node)
	if ins.Kind == KindRun && len(args) == 0 {
		return fmt.Errorf("%w: RUN requires a command", ErrArguments)
	}

	ins.Args = args
	ins.Shell = !node.Attributes["json"] && len(args) > 0
	return nil
}

// Fills the path of a WORKDIR instruction.
func parseWorkdir(node *parser.Node, ins *Instruction) error {
	args := values(node)
	if len(args) != 1 {
		return fmt.Errorf("%w: WORKDIR requires exactly one argument", ErrArguments)
	}
	ins.Args = []string{unquote(args[0])}
	return nil
}

// Fills the assignments of an ENV or LABEL instruction. Both the "k=v" and
// the legacy "k v" forms are accepted. Values keep their literal text apart
// from one level of surrounding quotes.
func parsePairs(node *parser.Node, ins *Instruction) error {
	cmd, err := instructions.ParseInstruction(node)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrArguments, err)
	}

	var kvs instructions.KeyValuePairs
	switch c := cmd.(type) {
	case *instructions.EnvCommand:
		kvs = c.Env
	case *instructions.LabelCommand:
		kvs = c.Labels
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, node.Value)
	}
	if len(kvs) == 0 {
		return fmt.Errorf("%w: %s requires key-value pairs", ErrArguments, ins.Kind)
	}

	for _, kv := range kvs {
		ins.Pairs = append(ins.Pairs, KeyValue{
			Key:   unquote(kv.Key),
			Value: unquote(kv.Value),
		})
	}
	return nil
}

// Collects the argument chain of a node.
func values(node *parser.Node) []string {
	var out []string
	for n := node.Next; n != nil; n = n.Next {
		out = append(out, n.Value)
	}
	return out
}

// Strips one level of matching single or double quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// Whether an ADD source refers to a remote location.
func isRemote(src string) bool {
	for _, prefix := range []string{"http://", "https://", "git@", "git://"} {
		if strings.HasPrefix(src, prefix) {
			return true
		}
	}
	return false
}
