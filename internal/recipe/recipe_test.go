package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefault(t *testing.T) {
	rec, err := Default("python:3")
	require.NoError(t, err)

	require.Equal(t, "python:3", rec.Base)
	require.Equal(t, []string{ManifestFile, ScriptFile}, rec.Required)
	require.Len(t, rec.Instructions, 4)
	require.Equal(t, 3, rec.Layers())

	src := rec.Instructions[0]
	require.Equal(t, KindCopy, src.Kind)
	require.Equal(t, []string{"."}, src.Sources())
	require.Equal(t, SourceDir, src.Dest())

	manifest := rec.Instructions[1]
	require.Equal(t, []string{ManifestFile}, manifest.Sources())
	require.Equal(t, ManifestPath, manifest.Dest())

	install := rec.Instructions[2]
	require.Equal(t, KindRun, install.Kind)
	require.True(t, install.Shell)
	require.Equal(t, []string{"/bin/sh", "-c", "pip install -r " + ManifestPath}, install.Command())

	cmd := rec.Instructions[3]
	require.Equal(t, KindCmd, cmd.Kind)
	require.False(t, cmd.Shell)
	require.Equal(t, []string{Interpreter, ScriptPath}, cmd.Command())
}

func TestDefaultRejectsInvalidBase(t *testing.T) {
	for _, base := range []string{"", "python:3\nRUN rm -rf /", "a b"} {
		_, err := Default(base)
		require.ErrorIs(t, err, ErrArguments, "base %q", base)
	}
}

func TestParseInstructions(t *testing.T) {
	src := `# comment
FROM registry.example.com/runtime:1 AS app
WORKDIR /app
ENV A=1 B="two words"
ENV LEGACY value with spaces
LABEL org.example.team=build
ADD ["a b.txt", "/app/"]
RUN ["pip", "install", "-r", "requirements.txt"]
ENTRYPOINT python
CMD ["main.py"]
`
	rec, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, "registry.example.com/runtime:1", rec.Base)
	require.Equal(t, 2, rec.BaseLine)
	require.Len(t, rec.Instructions, 8)

	require.Equal(t, []string{"/app"}, rec.Instructions[0].Args)
	require.Equal(t, 3, rec.Instructions[0].Line)

	require.Equal(t, []KeyValue{{"A", "1"}, {"B", "two words"}}, rec.Instructions[1].Pairs)
	require.Equal(t, []KeyValue{{"LEGACY", "value with spaces"}}, rec.Instructions[2].Pairs)
	require.Equal(t, []KeyValue{{"org.example.team", "build"}}, rec.Instructions[3].Pairs)

	add := rec.Instructions[4]
	require.Equal(t, KindAdd, add.Kind)
	require.Equal(t, []string{"a b.txt"}, add.Sources())
	require.Equal(t, "/app/", add.Dest())

	run := rec.Instructions[5]
	require.False(t, run.Shell)
	require.Equal(t, []string{"pip", "install", "-r", "requirements.txt"}, run.Command())

	require.True(t, rec.Instructions[6].Shell)
	require.Equal(t, []string{"/bin/sh", "-c", "python"}, rec.Instructions[6].Command())
	require.Equal(t, []string{"main.py"}, rec.Instructions[7].Command())
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []KeyValue
	}{
		{"single env", "ENV A=1", []KeyValue{{"A", "1"}}},
		{"several env", "ENV A=1 B=2 C=3", []KeyValue{{"A", "1"}, {"B", "2"}, {"C", "3"}}},
		{"legacy env", "ENV PATH /opt/bin:/usr/bin", []KeyValue{{"PATH", "/opt/bin:/usr/bin"}}},
		{"quoted value", `ENV GREETING="hello world"`, []KeyValue{{"GREETING", "hello world"}}},
		{"empty value", "ENV EMPTY=", []KeyValue{{"EMPTY", ""}}},
		{"single label", "LABEL k=v", []KeyValue{{"k", "v"}}},
		{"several labels", `LABEL a=1 "b c"=2`, []KeyValue{{"a", "1"}, {"b c", "2"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Parse(strings.NewReader("FROM a\n" + tt.line + "\n"))
			require.NoError(t, err)
			require.Len(t, rec.Instructions, 1)
			require.Equal(t, tt.want, rec.Instructions[0].Pairs)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"empty", "", ErrParse},
		{"comments only", "# nothing\n", ErrParse},
		{"no from", "RUN true\n", ErrNoBase},
		{"second from", "FROM a\nFROM b\n", ErrMultiStage},
		{"from flag", "FROM --platform=linux/arm64 a\n", ErrUnsupported},
		{"copy from stage", "FROM a\nCOPY --from=build /x /y\n", ErrUnsupported},
		{"remote add", "FROM a\nADD https://example.com/x /x\n", ErrUnsupported},
		{"missing dest", "FROM a\nCOPY x\n", ErrArguments},
		{"unknown instruction", "FROM a\nUSER nobody\n", ErrUnsupported},
		{"workdir arity", "FROM a\nWORKDIR\n", ErrArguments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseErrorNamesLine(t *testing.T) {
	_, err := Parse(strings.NewReader("FROM a\nRUN true\nUSER nobody\n"))
	require.ErrorContains(t, err, "line 3")
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename)
	require.NoError(t, os.WriteFile(path, []byte(DefaultSource("python:3.12")), 0o644))

	rec, err := ParseFile(path)
	require.NoError(t, err)
	require.Equal(t, "python:3.12", rec.Base)
	require.Empty(t, rec.Required)

	_, err = ParseFile(filepath.Join(dir, "missing"))
	require.ErrorIs(t, err, ErrParse)
}

func TestInstructionString(t *testing.T) {
	ins := Instruction{Kind: KindEnv, Pairs: []KeyValue{{"A", "1"}}}
	require.Equal(t, "ENV A=1", ins.String())

	ins = Instruction{Kind: KindRun, Args: []string{"echo hi"}, Shell: true}
	require.Equal(t, "RUN echo hi", ins.String())

	ins.Original = "RUN  echo hi"
	require.Equal(t, "RUN  echo hi", ins.String())
}
