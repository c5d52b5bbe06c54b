package build

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
)

// Name of the file listing context paths that ingestion never sees.
const IgnoreFile = ".dockerignore"

// Host directory that COPY and ADD sources are resolved against.
//
// Source paths are always interpreted relative to the context root, even
// when written as absolute paths, and symlinks are resolved without leaving
// the root. Paths matched by the ignore file are treated as absent.
type buildContext struct {
	root   string                         // Absolute, symlink-free context directory.
	ignore *patternmatcher.PatternMatcher // Nil when the context has no ignore file.
}

// Opens the build context rooted at dir.
func openContext(dir string) (*buildContext, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	c := &buildContext{root: root}
	if err := c.loadIgnore(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reads the ignore file, if the context has one.
func (c *buildContext) loadIgnore() error {
	f, err := os.Open(filepath.Join(c.root, IgnoreFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	patterns, err := ignorefile.ReadAll(f)
	if err != nil {
		return fmt.Errorf("%s: %w", IgnoreFile, err)
	}
	if len(patterns) == 0 {
		return nil
	}

	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return fmt.Errorf("%s: %w", IgnoreFile, err)
	}
	c.ignore = pm
	return nil
}

// Whether a context-relative path is excluded by the ignore file. The root
// itself is never excluded.
func (c *buildContext) excluded(rel string) bool {
	if c.ignore == nil || rel == "." {
		return false
	}
	ok, err := c.ignore.MatchesOrParentMatches(rel)
	return err == nil && ok
}

// Checks that every path exists in the context and is not ignored.
func (c *buildContext) require(paths []string) error {
	for _, p := range paths {
		if _, err := c.match(p); err != nil {
			return err
		}
	}
	return nil
}

// Expands a source path or glob to the context-relative paths it names.
//
// Fails with [ErrPathNotFound] when nothing matches, and with
// [ErrOutsideCtx] when the path climbs above the root.
func (c *buildContext) match(src string) ([]string, error) {
	rel, err := cleanSource(src)
	if err != nil {
		return nil, err
	}

	if !hasGlobMeta(rel) {
		if c.excluded(rel) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
		}
		if _, _, err := c.stat(rel); err != nil {
			return nil, err
		}
		return []string{rel}, nil
	}

	matches, err := doublestar.Glob(os.DirFS(c.root), rel)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", src, err)
	}

	var out []string
	for _, m := range matches {
		if !c.excluded(m) {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, src)
	}
	return out, nil
}

// Returns the host path and file info behind a context-relative path.
func (c *buildContext) stat(rel string) (string, fs.FileInfo, error) {
	host, err := securejoin.SecureJoin(c.root, filepath.FromSlash(rel))
	if err != nil {
		return "", nil, err
	}

	info, err := os.Lstat(host)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrPathNotFound, rel)
	}
	if err != nil {
		return "", nil, err
	}
	return host, info, nil
}

// Normalizes a source to a slash-separated path relative to the context
// root. Leading slashes are dropped.
func cleanSource(src string) (string, error) {
	rel := path.Clean(strings.TrimLeft(filepath.ToSlash(src), "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideCtx, src)
	}
	return rel, nil
}

func hasGlobMeta(p string) bool {
	return strings.ContainsAny(p, "*?[")
}
