package recipe

import (
	"fmt"
	"strings"
)

const (
	SourceDir    = "/src"                       // Image directory receiving the build context.
	ManifestFile = "requirements.txt"           // Context-relative dependency manifest.
	ManifestPath = "/tmp/requirements.txt"      // Image path of the ingested manifest.
	ScriptFile   = "python-example.py"          // Context-relative entry-point script.
	ScriptPath   = SourceDir + "/" + ScriptFile // Image path of the entry-point script.
	Interpreter  = "python"                     // Runtime interpreter bound as the entry point.
)

// Renders the built-in recipe for the given base image.
func DefaultSource(base string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", base)
	fmt.Fprintf(&b, "COPY . %s\n", SourceDir)
	fmt.Fprintf(&b, "COPY %s %s\n", ManifestFile, ManifestPath)
	fmt.Fprintf(&b, "RUN pip install -r %s\n", ManifestPath)
	fmt.Fprintf(&b, "CMD [%q, %q]\n", Interpreter, ScriptPath)
	return b.String()
}

// Returns the built-in recipe for the given base image.
//
// The manifest and the entry-point script are marked as required, so a
// context lacking either fails at source ingestion.
func Default(base string) (*Recipe, error) {
	if base == "" || strings.ContainsAny(base, " \t\r\n") {
		return nil, fmt.Errorf("%w: invalid base image %q", ErrArguments, base)
	}

	rec, err := Parse(strings.NewReader(DefaultSource(base)))
	if err != nil {
		return nil, err
	}

	rec.Required = []string{ManifestFile, ScriptFile}
	return rec, nil
}
