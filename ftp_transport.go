package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/textproto"
	"path"
	"strings"
	"sync"

	"github.com/jlaffaye/ftp"
)

// ftpTransport drives github.com/jlaffaye/ftp. Listing parsing, passive
// mode negotiation and the data channel all live in that library.
type ftpTransport struct {
	logger *slog.Logger
	conn   *ftp.ServerConn
}

func newFTPTransport(logger *slog.Logger) Transport {
	return &ftpTransport{logger: logger}
}

func (f *ftpTransport) Connect(ctx context.Context, cfg *Config) error {
	conn, err := ftp.Dial(cfg.Address(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(cfg.Timeout),
		ftp.DialWithDebugOutput(&ftpDebugLog{logger: f.logger}),
	)
	if err != nil {
		return err
	}
	if err := conn.Login(cfg.User, cfg.Password); err != nil {
		_ = conn.Quit()
		return err
	}
	if cfg.Path != "" {
		if err := conn.ChangeDir(cfg.Path); err != nil {
			_ = conn.Quit()
			return fmt.Errorf("initial directory %s: %w", cfg.Path, err)
		}
	}
	f.conn = conn
	return nil
}

func (f *ftpTransport) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Quit()
	f.conn = nil
	return err
}

func (f *ftpTransport) ChangeDir(p string) (string, error) {
	if err := f.conn.ChangeDir(p); err != nil {
		return "", err
	}
	return f.conn.CurrentDir()
}

func (f *ftpTransport) CurrentDir() (string, error) {
	return f.conn.CurrentDir()
}

func (f *ftpTransport) List(dir string) ([]DirectoryEntry, error) {
	list, err := f.conn.List(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]DirectoryEntry, 0, len(list))
	for _, e := range list {
		entries = append(entries, entryFromFTP(e))
	}
	return entries, nil
}

func entryFromFTP(e *ftp.Entry) DirectoryEntry {
	de := DirectoryEntry{
		Name:    e.Name,
		Type:    TypeFile,
		Size:    int64(e.Size),
		ModTime: e.Time.UTC(),
		Target:  e.Target,
	}
	switch e.Type {
	case ftp.EntryTypeFolder:
		de.Type = TypeDir
	case ftp.EntryTypeLink:
		de.Type = TypeLink
	}
	return de
}

// find looks p up in the listing of its parent directory. The root always
// exists.
func (f *ftpTransport) find(p string) (*ftp.Entry, error) {
	if p == "/" {
		return &ftp.Entry{Name: "/", Type: ftp.EntryTypeFolder}, nil
	}
	list, err := f.conn.List(path.Dir(p))
	if err != nil {
		return nil, err
	}
	name := path.Base(p)
	for _, e := range list {
		if e.Name == name {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
}

func (f *ftpTransport) Exists(p string) (bool, error) {
	_, err := f.find(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist), isMissingReply(err):
		return false, nil
	}
	return false, err
}

func (f *ftpTransport) MakeDir(p string) error {
	return f.conn.MakeDir(p)
}

func (f *ftpTransport) Remove(p string) error {
	e, err := f.find(p)
	if err != nil {
		return err
	}
	if e.Type == ftp.EntryTypeFolder {
		return f.conn.RemoveDirRecur(p)
	}
	return f.conn.Delete(p)
}

func (f *ftpTransport) Rename(from, to string) error {
	return f.conn.Rename(from, to)
}

func (f *ftpTransport) Store(p string, r io.Reader) error {
	return f.conn.Stor(p, r)
}

func (f *ftpTransport) Retrieve(p string, w io.Writer) (int64, error) {
	resp, err := f.conn.Retr(p)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(w, resp)
	closeErr := resp.Close()
	if copyErr != nil {
		return n, copyErr
	}
	return n, closeErr
}

func (f *ftpTransport) Size(p string) (int64, error) {
	return f.conn.FileSize(p)
}

func (f *ftpTransport) Noop() error {
	return f.conn.NoOp()
}

// isMissingReply reports whether err is the 550 a server answers for a
// listing of a directory that does not exist.
func isMissingReply(err error) bool {
	var tpe *textproto.Error
	return errors.As(err, &tpe) && tpe.Code == ftp.StatusFileUnavailable
}

// ftpDebugLog routes the library's protocol trace to the session logger at
// debug level, masking passwords.
type ftpDebugLog struct {
	mu     sync.Mutex
	logger *slog.Logger
}

func (d *ftpDebugLog) Write(p []byte) (int, error) {
	if !d.logger.Enabled(context.Background(), slog.LevelDebug) {
		return len(p), nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	lines := strings.Split(string(p), "\r\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, line := range lines {
		if strings.HasPrefix(line, "PASS ") {
			line = "PASS *****"
		}
		d.logger.Debug("ftp", "line", line)
	}
	return len(p), nil
}
