package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cruciblehq/imgbuild/internal/recipe"
	"github.com/cruciblehq/imgbuild/internal/runtime"
)

// Writes files into a fresh context directory.
func writeContext(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func exampleContext(t *testing.T) string {
	return writeContext(t, map[string]string{
		"requirements.txt":  "requests==2.32.3\n",
		"python-example.py": "print('hello')\n",
		"lib/util.py":       "X = 1\n",
	})
}

func defaultRecipe(t *testing.T) *recipe.Recipe {
	t.Helper()
	rec, err := recipe.Default("python:3")
	require.NoError(t, err)
	return rec
}

func parseRecipe(t *testing.T, src string) *recipe.Recipe {
	t.Helper()
	rec, err := recipe.Parse(strings.NewReader(src))
	require.NoError(t, err)
	return rec
}

func stepError(t *testing.T, err error) *StepError {
	t.Helper()
	var se *StepError
	require.True(t, errors.As(err, &se), "expected a step error, got %v", err)
	return se
}

func TestRunDefaultRecipe(t *testing.T) {
	be := newFakeBackend()
	var progress []string

	result, err := Run(context.Background(), be, Options{
		Recipe:   defaultRecipe(t),
		Context:  exampleContext(t),
		Tag:      "example",
		Platform: "linux/amd64",
		ID:       "b1",
		Progress: func(p Progress) { progress = append(progress, p.String()) },
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"[1/5] FROM python:3",
		"[2/5] COPY . /src",
		"[3/5] COPY requirements.txt /tmp/requirements.txt",
		"[4/5] RUN pip install -r /tmp/requirements.txt",
		`[5/5] CMD ["python", "/src/python-example.py"]`,
	}, progress)

	require.Equal(t, []string{"python", "/src/python-example.py"}, result.Command())
	require.Empty(t, result.Entrypoint)
	require.Equal(t, "docker.io/library/example:latest", result.Image)
	require.Equal(t, "docker.io/library/python:3", result.Base)
	require.NotEmpty(t, result.BaseDigest)
	require.Len(t, result.Layers, 3)
	require.Empty(t, result.Output)

	s := be.session
	require.Equal(t, []string{"python:3"}, be.resolved)
	require.Equal(t, result.Image, s.finalized)
	require.Equal(t, 1, s.closed)
	require.Equal(t, [][]string{{"/bin/sh", "-c", "pip install -r /tmp/requirements.txt"}}, s.execs)

	require.Equal(t, "print('hello')\n", s.files["/src/python-example.py"])
	require.Equal(t, "requests==2.32.3\n", s.files["/src/requirements.txt"])
	require.Equal(t, "X = 1\n", s.files["/src/lib/util.py"])
	require.Equal(t, "requests==2.32.3\n", s.files["/tmp/requirements.txt"])
	require.Contains(t, s.paths(), "/src/lib/")

	// The base environment survives finalization.
	require.Contains(t, s.config.Env, "LANG=C.UTF-8")
}

func TestRunMissingScriptFailsAtIngestion(t *testing.T) {
	be := newFakeBackend()
	dir := writeContext(t, map[string]string{"requirements.txt": "flask\n"})

	_, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: dir})
	require.ErrorIs(t, err, ErrBuild)
	require.ErrorIs(t, err, ErrIngestion)
	require.ErrorIs(t, err, ErrPathNotFound)
	require.Contains(t, err.Error(), "python-example.py")

	se := stepError(t, err)
	require.Equal(t, 2, se.Step)
	require.Equal(t, 5, se.Total)
	require.Equal(t, "COPY . /src", se.Instruction)
	require.Equal(t, 2, se.Line)
	require.Contains(t, err.Error(), "step 2/5 (line 2: COPY . /src)")

	s := be.session
	require.Empty(t, s.layers)
	require.Empty(t, s.execs)
	require.Empty(t, s.finalized)
	require.Nil(t, s.config)
	require.Equal(t, 1, s.closed)
}

func TestRunInstallFailureStopsBuild(t *testing.T) {
	be := newFakeBackend()
	be.exec = func(args, env []string, workdir string) *runtime.ExecResult {
		return &runtime.ExecResult{
			ExitCode: 1,
			Stderr:   "Collecting nosuchpkg\nERROR: No matching distribution found for nosuchpkg\n",
		}
	}

	_, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: exampleContext(t)})
	require.ErrorIs(t, err, ErrInstallation)
	require.NotErrorIs(t, err, ErrIngestion)
	require.Contains(t, err.Error(), "exit code 1")
	require.Contains(t, err.Error(), "No matching distribution found")

	se := stepError(t, err)
	require.Equal(t, 4, se.Step)

	s := be.session
	require.Len(t, s.layers, 2)
	require.Empty(t, s.finalized)
	require.NotContains(t, s.files, "/usr/local/lib/python3/site-packages/")
}

func TestRunResolutionFailure(t *testing.T) {
	be := newFakeBackend()
	be.resolveErr = errors.New("manifest unknown")

	_, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: exampleContext(t)})
	require.ErrorIs(t, err, ErrResolution)
	require.Contains(t, err.Error(), "manifest unknown")

	se := stepError(t, err)
	require.Equal(t, 1, se.Step)
	require.Equal(t, "FROM python:3", se.Instruction)
	require.Equal(t, 1, se.Line)
	require.Nil(t, be.session)
}

func TestRunCancelledMidStepReleasesSession(t *testing.T) {
	be := newFakeBackend()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	be.exec = func(args, env []string, workdir string) *runtime.ExecResult {
		cancel()
		return &runtime.ExecResult{}
	}

	_, err := Run(ctx, be, Options{Recipe: defaultRecipe(t), Context: exampleContext(t)})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 4, stepError(t, err).Step)

	s := be.session
	require.Len(t, s.layers, 2)
	require.Equal(t, 1, s.discarded)
	require.Empty(t, s.finalized)
	require.Equal(t, 1, s.closed)
	require.NoError(t, s.closeErr)
}

func TestRunIsRepeatable(t *testing.T) {
	dir := exampleContext(t)

	var commands [][]string
	for range 3 {
		be := newFakeBackend()
		result, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: dir, Tag: "example"})
		require.NoError(t, err)
		commands = append(commands, result.Command())
		require.Equal(t, []string{"python", "/src/python-example.py"}, be.session.config.Cmd)
	}

	require.Equal(t, commands[0], commands[1])
	require.Equal(t, commands[0], commands[2])
}

func TestRunExportsArchive(t *testing.T) {
	be := newFakeBackend()
	out := filepath.Join(t.TempDir(), "dist")

	result, err := Run(context.Background(), be, Options{
		Recipe:  defaultRecipe(t),
		Context: exampleContext(t),
		Output:  out,
	})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(out, "image.tar"), result.Output)
	require.Equal(t, []string{result.Output}, be.exported)
	require.DirExists(t, out)
}

func TestRunAppliesMetadata(t *testing.T) {
	be := newFakeBackend()
	var seenEnv []string
	var seenWorkdir string
	be.exec = func(args, env []string, workdir string) *runtime.ExecResult {
		seenEnv, seenWorkdir = env, workdir
		return &runtime.ExecResult{}
	}

	rec := parseRecipe(t, `FROM python:3-slim
ENV PIP_NO_CACHE_DIR=1 LANG=en_US.UTF-8
WORKDIR /app
COPY requirements.txt .
RUN ["pip", "install", "-r", "requirements.txt"]
LABEL org.opencontainers.image.title=example
ENTRYPOINT ["python"]
CMD ["main.py"]
`)

	dir := writeContext(t, map[string]string{"requirements.txt": "flask\n"})
	result, err := Run(context.Background(), be, Options{Recipe: rec, Context: dir})
	require.NoError(t, err)

	require.Equal(t, []string{"PIP_NO_CACHE_DIR=1", "LANG=en_US.UTF-8"}, seenEnv)
	require.Equal(t, "/app", seenWorkdir)
	require.Equal(t, "flask\n", be.session.files["/app/requirements.txt"])
	require.Equal(t, [][]string{{"pip", "install", "-r", "requirements.txt"}}, be.session.execs)

	cfg := be.session.config
	require.Equal(t, "/app", cfg.WorkingDir)
	require.Equal(t, "example", cfg.Labels["org.opencontainers.image.title"])
	require.Equal(t, []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"LANG=en_US.UTF-8",
		"PIP_NO_CACHE_DIR=1",
	}, cfg.Env)
	require.Equal(t, []string{"python", "main.py"}, result.Command())
}

func TestRunInheritsBaseWorkdir(t *testing.T) {
	be := newFakeBackend()
	be.config.WorkingDir = "/usr/src/app"
	var seenWorkdir string
	be.exec = func(args, env []string, workdir string) *runtime.ExecResult {
		seenWorkdir = workdir
		return &runtime.ExecResult{}
	}

	rec := parseRecipe(t, "FROM python:3\nCOPY requirements.txt .\nRUN pip install -r requirements.txt\n")
	dir := writeContext(t, map[string]string{"requirements.txt": "flask\n"})

	_, err := Run(context.Background(), be, Options{Recipe: rec, Context: dir})
	require.NoError(t, err)
	require.Equal(t, "/usr/src/app", seenWorkdir)
	require.Equal(t, "flask\n", be.session.files["/usr/src/app/requirements.txt"])
	require.Equal(t, "/usr/src/app", be.session.config.WorkingDir)
}

func TestRunEntrypointClearsInheritedCmd(t *testing.T) {
	be := newFakeBackend()
	rec := parseRecipe(t, "FROM python:3\nENTRYPOINT [\"python\", \"-m\", \"http.server\"]\n")

	result, err := Run(context.Background(), be, Options{Recipe: rec, Context: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, []string{"python", "-m", "http.server"}, result.Entrypoint)
	require.Empty(t, result.Cmd)
}

func TestRunIgnoredScriptIsMissing(t *testing.T) {
	be := newFakeBackend()
	dir := exampleContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFile), []byte("*.py\n"), 0o644))

	_, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: dir})
	require.ErrorIs(t, err, ErrPathNotFound)
	require.Equal(t, 2, stepError(t, err).Step)
}

func TestRunHonorsIgnoreFile(t *testing.T) {
	be := newFakeBackend()
	dir := exampleContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".venv", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".venv", "bin", "python"), []byte("elf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, IgnoreFile), []byte(".venv\n"), 0o644))

	_, err := Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: dir})
	require.NoError(t, err)

	for _, p := range be.session.paths() {
		require.NotContains(t, p, ".venv")
	}
	require.Contains(t, be.session.files, "/src/"+IgnoreFile)
}

func TestRunRejectsBadOptions(t *testing.T) {
	be := newFakeBackend()

	_, err := Run(context.Background(), be, Options{Context: t.TempDir()})
	require.ErrorIs(t, err, ErrOptions)

	_, err = Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrOptions)

	_, err = Run(context.Background(), be, Options{Recipe: defaultRecipe(t), Context: t.TempDir(), Tag: "Not A Tag"})
	require.ErrorIs(t, err, ErrOptions)

	require.Empty(t, be.resolved)
}

func TestDefaultTag(t *testing.T) {
	require.Equal(t, "localhost/my-app", defaultTag("/work/My App"))
	require.Equal(t, "localhost/image", defaultTag("/"))
}
