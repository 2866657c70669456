package agentloop

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/afero"
)

// ErrPathEscapesWorkspace is returned when a tool-supplied path resolves
// outside the workspace root.
var ErrPathEscapesWorkspace = errors.New("path escapes the workspace root")

// ErrReservedPath is returned for paths the session itself owns.
var ErrReservedPath = errors.New("path is reserved by the workspace")

// ErrWorkspaceLocked is returned when another session holds the workspace.
var ErrWorkspaceLocked = errors.New("workspace is locked by another session")

const lockFileName = ".engineer.lock"

// Workspace is the filesystem root that every file tool resolves against.
type Workspace struct {
	fs   afero.Fs
	root string
}

// NewWorkspace wraps fs with root as the workspace directory.
func NewWorkspace(fs afero.Fs, root string) *Workspace {
	return &Workspace{fs: fs, root: filepath.Clean(root)}
}

// NewOSWorkspace creates a Workspace on the real filesystem, creating root
// if needed.
func NewOSWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	fs := afero.NewOsFs()
	if err := fs.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create root: %w", err)
	}
	return NewWorkspace(fs, abs), nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string { return w.root }

// Fs returns the underlying filesystem.
func (w *Workspace) Fs() afero.Fs { return w.fs }

// Platform returns the operating system name.
func (w *Workspace) Platform() string { return runtime.GOOS }

// OSVersion returns the os/arch pair.
func (w *Workspace) OSVersion() string { return runtime.GOOS + "/" + runtime.GOARCH }

// Resolve maps a tool-supplied filename to a cleaned path under the root.
// Absolute paths are accepted only when they already lie inside the root.
// On the OS filesystem symlinks are followed, so a link pointing outside the
// root is rejected as well.
func (w *Workspace) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty filename")
	}
	var p string
	if filepath.IsAbs(name) {
		p = filepath.Clean(name)
	} else {
		p = filepath.Join(w.root, name)
	}
	if !within(w.root, p) {
		return "", fmt.Errorf("%s: %w", name, ErrPathEscapesWorkspace)
	}
	if p == w.root {
		return "", fmt.Errorf("%s: names the workspace root, not a file", name)
	}
	if p == filepath.Join(w.root, lockFileName) {
		return "", fmt.Errorf("%s: %w", name, ErrReservedPath)
	}
	if err := w.checkLinks(name, p); err != nil {
		return "", err
	}
	return p, nil
}

// within reports whether p is root or lies below it.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Workspace) checkLinks(name, p string) error {
	if _, ok := w.fs.(*afero.OsFs); !ok {
		return nil
	}
	root, err := filepath.EvalSymlinks(w.root)
	if err != nil {
		return fmt.Errorf("resolve workspace root: %w", err)
	}
	resolved, err := realPath(p)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", name, err)
	}
	if !within(root, resolved) {
		return fmt.Errorf("%s: %w", name, ErrPathEscapesWorkspace)
	}
	return nil
}

// realPath evaluates symlinks on the deepest existing ancestor of p and
// appends the components that do not exist yet.
func realPath(p string) (string, error) {
	var missing []string
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			return filepath.Join(append([]string{resolved}, missing...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append([]string{filepath.Base(cur)}, missing...)
		cur = parent
	}
}

// ReadFile returns the contents of name and whether it exists.
func (w *Workspace) ReadFile(name string) (string, bool, error) {
	p, err := w.Resolve(name)
	if err != nil {
		return "", false, err
	}
	data, err := afero.ReadFile(w.fs, p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read %s: %w", name, err)
	}
	return string(data), true, nil
}

// EnsureFile creates name and its parent directories if the file does not
// exist. It reports whether the file was created.
func (w *Workspace) EnsureFile(name string) (bool, error) {
	p, err := w.Resolve(name)
	if err != nil {
		return false, err
	}
	exists, err := afero.Exists(w.fs, p)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if err := w.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return false, fmt.Errorf("create directories for %s: %w", name, err)
	}
	f, err := w.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("create %s: %w", name, err)
	}
	return true, f.Close()
}

// ReplaceFile writes content to name by writing a sibling temporary file
// and renaming it over the target, so readers never see a partial write.
// An existing file keeps its permission bits; new files get 0644.
func (w *Workspace) ReplaceFile(name, content string) error {
	p, err := w.Resolve(name)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if info, err := w.fs.Stat(p); err == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(p)
	if err := w.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directories for %s: %w", name, err)
	}
	tmp, err := afero.TempFile(w.fs, dir, "."+filepath.Base(p)+".tmp-*")
	if err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	if err := w.fs.Chmod(tmpName, mode); err != nil {
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	if err := w.fs.Rename(tmpName, p); err != nil {
		_ = w.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// LockWorkspace takes an exclusive advisory lock on the workspace root. The
// returned unlock function releases it.
func LockWorkspace(root string) (func() error, error) {
	lock := flock.New(filepath.Join(root, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock workspace %s: %w", root, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", root, ErrWorkspaceLocked)
	}
	return lock.Unlock, nil
}
