package xfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

// Transport is the capability interface a Session drives. Implementations
// wrap one client library (FTP, SFTP, local filesystem) and are never used
// concurrently: the Session serializes every call.
//
// Paths handed to a Transport are absolute and cleaned. Errors should wrap
// fs.ErrNotExist, fs.ErrPermission and fs.ErrExist where the condition is
// known, or be the library's own error values; the Session classifies them.
type Transport interface {
	// Connect establishes the connection and authenticates.
	Connect(ctx context.Context, cfg *Config) error

	// Close releases the connection. It is called once per Connect.
	Close() error

	// ChangeDir changes the working directory and returns the new one.
	ChangeDir(p string) (string, error)

	// CurrentDir returns the working directory.
	CurrentDir() (string, error)

	// List returns every entry of dir, hidden ones included.
	List(dir string) ([]DirectoryEntry, error)

	// Exists reports whether p exists. A missing path is (false, nil).
	Exists(p string) (bool, error)

	// MakeDir creates the directory p.
	MakeDir(p string) error

	// Remove deletes the file p, or the directory p and its contents.
	Remove(p string) error

	// Rename moves from to to.
	Rename(from, to string) error

	// Store writes the contents of r to the remote file p.
	Store(p string, r io.Reader) error

	// Retrieve copies the remote file p into w and returns the byte count.
	Retrieve(p string, w io.Writer) (int64, error)
}

// Pinger is implemented by transports that can keep an idle connection
// alive.
type Pinger interface {
	Noop() error
}

// Sizer is implemented by transports that can report a remote file size
// without reading it. It feeds the Total field of download progress events.
type Sizer interface {
	Size(p string) (int64, error)
}

// TransportFactory builds an unconnected Transport for a session. The logger
// is the session's logger.
type TransportFactory func(logger *slog.Logger) Transport

var (
	transportsMu sync.RWMutex
	transports   = map[string]TransportFactory{
		"ftp":  newFTPTransport,
		"sftp": newSFTPTransport,
		"file": newLocalTransport,
	}
)

// RegisterTransport makes a transport available under kind, the value of
// Config.Kind that selects it. It fails if kind is already registered.
func RegisterTransport(kind string, factory TransportFactory) error {
	if kind == "" {
		return fmt.Errorf("transport kind cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("transport factory cannot be nil")
	}

	transportsMu.Lock()
	defer transportsMu.Unlock()

	if _, exists := transports[kind]; exists {
		return fmt.Errorf("transport %q already registered", kind)
	}
	transports[kind] = factory
	return nil
}

// Transports returns the registered transport kinds, sorted.
func Transports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()

	kinds := make([]string, 0, len(transports))
	for kind := range transports {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func lookupTransport(kind string) (TransportFactory, error) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()

	factory, ok := transports[kind]
	if !ok {
		return nil, fmt.Errorf("transport %q not registered", kind)
	}
	return factory, nil
}
