package build

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/imgbuild/internal/recipe"
)

func copyInstruction(args ...string) recipe.Instruction {
	return recipe.Instruction{Kind: recipe.KindCopy, Args: args}
}

func entryNames(p *copyPlan) []string {
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

func TestMatch(t *testing.T) {
	c, err := openContext(writeContext(t, map[string]string{
		"a.py":       "",
		"b.py":       "",
		"pkg/c.py":   "",
		"pkg/d.txt":  "",
		"secret.key": "",
		IgnoreFile:   "*.key\n",
	}))
	require.NoError(t, err)

	tests := []struct {
		src  string
		want []string
		err  error
	}{
		{src: ".", want: []string{"."}},
		{src: "a.py", want: []string{"a.py"}},
		{src: "/a.py", want: []string{"a.py"}},
		{src: "./pkg/../a.py", want: []string{"a.py"}},
		{src: "*.py", want: []string{"a.py", "b.py"}},
		{src: "**/*.py", want: []string{"a.py", "b.py", "pkg/c.py"}},
		{src: "missing.py", err: ErrPathNotFound},
		{src: "*.go", err: ErrPathNotFound},
		{src: "secret.key", err: ErrPathNotFound},
		{src: "*.key", err: ErrPathNotFound},
		{src: "../etc/passwd", err: ErrOutsideCtx},
		{src: "pkg/../../x", err: ErrOutsideCtx},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := c.match(tt.src)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestMatchSymlinkStaysInContext(t *testing.T) {
	dir := writeContext(t, map[string]string{"inner/real.txt": "ok"})
	require.NoError(t, os.Symlink("/etc", filepath.Join(dir, "escape")))

	c, err := openContext(dir)
	require.NoError(t, err)

	host, _, err := c.stat("escape/passwd")
	if err == nil {
		rel, relErr := filepath.Rel(c.root, host)
		require.NoError(t, relErr)
		require.NotContains(t, rel, "..")
	} else {
		require.True(t, errors.Is(err, ErrPathNotFound), "unexpected error: %v", err)
	}
}

func TestOpenContextRejectsFile(t *testing.T) {
	dir := writeContext(t, map[string]string{"file": "x"})
	_, err := openContext(filepath.Join(dir, "file"))
	require.Error(t, err)
}

func TestPlan(t *testing.T) {
	c, err := openContext(writeContext(t, map[string]string{
		"app.py":       "",
		"util.py":      "",
		"pkg/mod.py":   "",
		"pkg/sub/x.py": "",
	}))
	require.NoError(t, err)

	state := newStepState()

	t.Run("file to path", func(t *testing.T) {
		p, err := c.plan(copyInstruction("app.py", "/opt/main.py"), state)
		require.NoError(t, err)
		require.Equal(t, "/opt", p.dir)
		require.Equal(t, []string{"main.py"}, entryNames(p))
	})

	t.Run("file into directory", func(t *testing.T) {
		p, err := c.plan(copyInstruction("app.py", "/opt/"), state)
		require.NoError(t, err)
		require.Equal(t, "/opt", p.dir)
		require.Equal(t, []string{"app.py"}, entryNames(p))
	})

	t.Run("multiple sources", func(t *testing.T) {
		p, err := c.plan(copyInstruction("app.py", "util.py", "/opt"), state)
		require.NoError(t, err)
		require.Equal(t, "/opt", p.dir)
		require.Equal(t, []string{"app.py", "util.py"}, entryNames(p))
	})

	t.Run("directory contents", func(t *testing.T) {
		p, err := c.plan(copyInstruction("pkg", "/lib/pkg"), state)
		require.NoError(t, err)
		require.Equal(t, "/lib/pkg", p.dir)
		require.Equal(t, []string{"mod.py", "sub", "sub/x.py"}, entryNames(p))
	})

	t.Run("relative to workdir", func(t *testing.T) {
		s := newStepState()
		s.apply(recipe.Instruction{Kind: recipe.KindWorkdir, Args: []string{"/srv"}})
		p, err := c.plan(copyInstruction("app.py", "."), s)
		require.NoError(t, err)
		require.Equal(t, "/srv", p.dir)
		require.Equal(t, []string{"app.py"}, entryNames(p))
	})
}

func TestWriteArchive(t *testing.T) {
	dir := writeContext(t, map[string]string{"pkg/mod.py": "print(1)\n"})
	require.NoError(t, os.Symlink("mod.py", filepath.Join(dir, "pkg", "link.py")))

	c, err := openContext(dir)
	require.NoError(t, err)

	p, err := c.plan(copyInstruction("pkg", "/src"), newStepState())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeArchive(&buf, p.entries))

	tr := tar.NewReader(&buf)
	seen := map[string]*tar.Header{}
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen[hdr.Name] = hdr
		if hdr.Name == "mod.py" {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			require.Equal(t, "print(1)\n", string(data))
		}
	}

	require.Contains(t, seen, "mod.py")
	require.Contains(t, seen, "link.py")
	require.Equal(t, byte(tar.TypeSymlink), seen["link.py"].Typeflag)
	require.Equal(t, "mod.py", seen["link.py"].Linkname)
	require.Equal(t, 0, seen["mod.py"].Uid)
}
