package steps

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Workspace is the working tree the Code stage writes into. Paths are
// relative to its root and may not escape it.
type Workspace struct {
	root string
	fs   billy.Filesystem
}

// NewWorkspace opens dir as a workspace.
func NewWorkspace(dir string) (*Workspace, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("opening workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", abs)
	}
	return &Workspace{root: abs, fs: osfs.New(abs, osfs.WithBoundOS())}, nil
}

// Root returns the absolute workspace path.
func (w *Workspace) Root() string { return w.root }

func (w *Workspace) clean(path string) (string, error) {
	p := filepath.Clean(filepath.FromSlash(path))
	if p == "." || !filepath.IsLocal(p) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideWorkspace, path)
	}
	return p, nil
}

// Read returns the file content and whether the file exists.
func (w *Workspace) Read(path string) (string, bool, error) {
	p, err := w.clean(path)
	if err != nil {
		return "", false, err
	}
	data, err := util.ReadFile(w.fs, p)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), true, nil
}

// Write replaces the file, creating parent directories.
func (w *Workspace) Write(path, content string) error {
	p, err := w.clean(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(p); dir != "." {
		if err := w.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(w.fs, p, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
