package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strings"
	"syscall"
)

// localTransport serves a local directory as if it were a remote endpoint.
// Config.Path is the directory; it appears as "/" to the session, and every
// operation is confined to it with os.Root, so neither ".." nor a symlink
// can reach outside.
type localTransport struct {
	logger *slog.Logger
	root   *os.Root
	cwd    string
}

func newLocalTransport(logger *slog.Logger) Transport {
	return &localTransport{logger: logger}
}

func (l *localTransport) Connect(_ context.Context, cfg *Config) error {
	info, err := os.Stat(cfg.Path)
	if err != nil {
		return fmt.Errorf("root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root path is not a directory: %s", cfg.Path)
	}

	root, err := os.OpenRoot(cfg.Path)
	if err != nil {
		return err
	}
	l.root = root
	l.cwd = "/"
	l.logger.Debug("local root opened", "path", cfg.Path)
	return nil
}

// Close closes the root handle. This is essential to release file
// descriptors.
func (l *localTransport) Close() error {
	if l.root == nil {
		return nil
	}
	err := l.root.Close()
	l.root = nil
	return err
}

// rel returns p relative to the root handle: "/foo/bar" becomes "foo/bar"
// and "/" becomes ".".
func (l *localTransport) rel(p string) string {
	if !path.IsAbs(p) {
		p = path.Join(l.cwd, p)
	}
	r := strings.TrimPrefix(path.Clean(p), "/")
	if r == "" {
		return "."
	}
	return r
}

func (l *localTransport) ChangeDir(p string) (string, error) {
	info, err := l.root.Stat(l.rel(p))
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", p, syscall.ENOTDIR)
	}
	l.cwd = path.Clean("/" + l.rel(p))
	return l.cwd, nil
}

func (l *localTransport) CurrentDir() (string, error) {
	return l.cwd, nil
}

func (l *localTransport) List(dir string) ([]DirectoryEntry, error) {
	rel := l.rel(dir)
	f, err := l.root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dirents, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]DirectoryEntry, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		e := entryFromFileInfo(info)
		e.Owner, e.Group = fileOwner(info)
		if e.Type == TypeLink {
			if target, err := l.root.Readlink(path.Join(rel, de.Name())); err == nil {
				e.Target = target
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (l *localTransport) Exists(p string) (bool, error) {
	_, err := l.root.Lstat(l.rel(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (l *localTransport) MakeDir(p string) error {
	return l.root.Mkdir(l.rel(p), 0o755)
}

func (l *localTransport) Remove(p string) error {
	rel := l.rel(p)
	if rel == "." {
		return errRemoveRoot
	}
	info, err := l.root.Lstat(rel)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return l.root.RemoveAll(rel)
	}
	return l.root.Remove(rel)
}

func (l *localTransport) Rename(from, to string) error {
	return l.root.Rename(l.rel(from), l.rel(to))
}

func (l *localTransport) Store(p string, r io.Reader) error {
	f, err := l.root.OpenFile(l.rel(p), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *localTransport) Retrieve(p string, w io.Writer) (int64, error) {
	f, err := l.root.Open(l.rel(p))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s: %w", p, syscall.EISDIR)
	}
	return io.Copy(w, f)
}

func (l *localTransport) Size(p string) (int64, error) {
	info, err := l.root.Stat(l.rel(p))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (l *localTransport) Noop() error {
	_, err := l.root.Stat(".")
	return err
}
