package build

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/imgbuild/internal/runtime"
)

// In-memory [Backend] recording every call.
type fakeBackend struct {
	resolveErr error
	config     ocispec.ImageConfig // Runtime config of the base image.
	exec       func(args, env []string, workdir string) *runtime.ExecResult

	resolved []string
	session  *fakeSession
	exported []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		config: ocispec.ImageConfig{
			Env: []string{"PATH=/usr/local/bin:/usr/bin:/bin", "LANG=C.UTF-8"},
			Cmd: []string{"python3"},
		},
	}
}

func (b *fakeBackend) Resolve(ctx context.Context, ref, platform string) (*Base, error) {
	b.resolved = append(b.resolved, ref)
	if b.resolveErr != nil {
		return nil, b.resolveErr
	}
	return &Base{
		Ref:        ref,
		Name:       "docker.io/library/" + ref,
		Digest:     digest.FromString(ref),
		WorkingDir: b.config.WorkingDir,
	}, nil
}

func (b *fakeBackend) Open(ctx context.Context, base *Base, id, platform string) (Session, error) {
	b.session = &fakeSession{
		backend: b,
		base:    base,
		files:   map[string]string{},
	}
	return b.session, nil
}

func (b *fakeBackend) Export(ctx context.Context, name, platform, path string) error {
	b.exported = append(b.exported, path)
	return nil
}

// Layers as maps from container path to file content. Directories map to
// an empty string with a trailing slash in the key.
type fakeSession struct {
	backend   *fakeBackend
	base      *Base
	files     map[string]string
	layers    []string
	execs     [][]string
	config    *ocispec.ImageConfig
	finalized string
	discarded int // Layers whose step failed.
	closed    int
	closeErr  error // Context error seen by the last Close.
}

func (s *fakeSession) Layer(ctx context.Context, createdBy string, fn func(Workspace) error) (digest.Digest, error) {
	ws := &fakeWorkspace{session: s, files: maps.Clone(s.files)}
	if err := fn(ws); err != nil {
		s.discarded++
		return "", err
	}
	s.files = ws.files
	s.layers = append(s.layers, createdBy)
	return digest.FromString(fmt.Sprintf("%d %s", len(s.layers), createdBy)), nil
}

func (s *fakeSession) Finalize(ctx context.Context, name string, configure func(*ocispec.ImageConfig)) (digest.Digest, error) {
	cfg := s.backend.config
	cfg.Env = slices.Clone(cfg.Env)
	cfg.Cmd = slices.Clone(cfg.Cmd)
	cfg.Entrypoint = slices.Clone(cfg.Entrypoint)
	configure(&cfg)
	s.config = &cfg
	s.finalized = name
	return digest.FromString(name), nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.closed++
	s.closeErr = ctx.Err()
	return nil
}

// Sorted paths present after the last committed layer.
func (s *fakeSession) paths() []string {
	return slices.Sorted(maps.Keys(s.files))
}

type fakeWorkspace struct {
	session *fakeSession
	files   map[string]string
}

func (w *fakeWorkspace) MkdirAll(ctx context.Context, p string) error {
	for p != "/" && p != "." {
		w.files[p+"/"] = ""
		p = path.Dir(p)
	}
	return nil
}

func (w *fakeWorkspace) CopyTo(ctx context.Context, r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Uid != 0 || hdr.Gid != 0 {
			return fmt.Errorf("%s: owned by %d:%d", hdr.Name, hdr.Uid, hdr.Gid)
		}

		target := path.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			w.files[target+"/"] = ""
		case tar.TypeSymlink:
			w.files[target] = "-> " + hdr.Linkname
		default:
			data, err := io.ReadAll(tr)
			if err != nil {
				return err
			}
			w.files[target] = string(data)
		}
	}
}

func (w *fakeWorkspace) Exec(ctx context.Context, args []string, env []string, workdir string) (*runtime.ExecResult, error) {
	w.session.execs = append(w.session.execs, args)
	result := &runtime.ExecResult{}
	if w.session.backend.exec != nil {
		result = w.session.backend.exec(args, env, workdir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
