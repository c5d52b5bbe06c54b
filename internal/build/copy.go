package build

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/imgbuild/internal/recipe"
)

// A host file to place in the container.
type copyEntry struct {
	host string // Host path.
	name string // Slash-separated archive name, relative to the extraction directory.
}

// Files for one COPY or ADD instruction, and where they go.
type copyPlan struct {
	dir     string      // Absolute container directory the archive is extracted into.
	entries []copyEntry // Archive members, parents before children.
}

// Works out which context files an instruction copies and their archive names.
//
// The destination is a directory when it ends with "/" (or ".") or when the
// sources match more than one path; directory sources always copy their
// contents.
// Otherwise a single file source is written to exactly the destination path.
func (c *buildContext) plan(ins recipe.Instruction, state *stepState) (*copyPlan, error) {
	var matches []string
	for _, src := range ins.Sources() {
		m, err := c.match(src)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m...)
	}

	rawDest := ins.Dest()
	dest := state.resolve(rawDest)
	intoDir := len(matches) > 1 || dest == "/" || rawDest == "." ||
		strings.HasSuffix(rawDest, "/") || strings.HasSuffix(rawDest, "/.")

	if !intoDir {
		host, info, err := c.stat(matches[0])
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return &copyPlan{
				dir:     path.Dir(dest),
				entries: []copyEntry{{host: host, name: path.Base(dest)}},
			}, nil
		}
	}

	p := &copyPlan{dir: dest}
	for _, rel := range matches {
		host, info, err := c.stat(rel)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			p.entries = append(p.entries, copyEntry{host: host, name: path.Base(rel)})
			continue
		}
		if err := c.walk(host, rel, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Adds the contents of a context directory to the plan, skipping ignored
// paths. Names are relative to the directory itself.
func (c *buildContext) walk(host, rel string, p *copyPlan) error {
	return filepath.WalkDir(host, func(fp string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		sub, err := filepath.Rel(host, fp)
		if err != nil {
			return err
		}
		if sub == "." {
			return nil
		}
		sub = filepath.ToSlash(sub)

		if c.excluded(path.Join(rel, sub)) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		p.entries = append(p.entries, copyEntry{host: fp, name: sub})
		return nil
	})
}

// Streams the planned files into the workspace.
//
// The archive is produced on the fly and piped into the container, so memory
// use does not grow with the size of the context.
func ingest(ctx context.Context, ws Workspace, p *copyPlan) error {
	slog.Debug("ingesting", "dest", p.dir, "entries", len(p.entries))

	if err := ws.MkdirAll(ctx, p.dir); err != nil {
		return err
	}

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	go func() {
		err := writeArchive(pw, p.entries)
		pw.CloseWithError(err)
		errc <- err
	}()

	copyErr := ws.CopyTo(ctx, pr, p.dir)
	pr.CloseWithError(io.ErrClosedPipe)
	writeErr := <-errc

	if copyErr != nil {
		return copyErr
	}
	return writeErr
}

// Writes entries as a tar stream owned by root.
func writeArchive(w io.Writer, entries []copyEntry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		if err := writeEntry(tw, e); err != nil {
			return err
		}
	}
	return tw.Close()
}

// Writes one file, directory or symlink to a tar writer. Symlinks are
// stored as links, not followed.
func writeEntry(tw *tar.Writer, e copyEntry) error {
	info, err := os.Lstat(e.host)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(e.host); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = e.name
	if info.IsDir() {
		header.Name += "/"
	}
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := os.Open(e.host)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}
