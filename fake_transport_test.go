package xfer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

// fakeTransport is an in-memory Transport. hook, when set, runs at the
// start of every call and may block or fail it.
type fakeTransport struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	cwd   string

	calls       []string
	inFlight    int
	maxInFlight int
	closes      int
	connects    int
	noops       int

	connectErr  error
	connectHook func(ctx context.Context) error
	hook        func(op, p string) error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
		cwd:   "/",
	}
}

func (f *fakeTransport) enter(op, p string) error {
	f.mu.Lock()
	f.calls = append(f.calls, op+" "+p)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		return hook(op, p)
	}
	return nil
}

func (f *fakeTransport) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeTransport) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Connect(ctx context.Context, _ *Config) error {
	f.mu.Lock()
	f.connects++
	hook, err := f.connectHook, f.connectErr
	f.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	return err
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) ChangeDir(p string) (string, error) {
	if err := f.enter("cd", p); err != nil {
		f.leave()
		return "", err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirs[p] {
		return "", fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	f.cwd = p
	return p, nil
}

func (f *fakeTransport) CurrentDir() (string, error) {
	if err := f.enter("pwd", ""); err != nil {
		f.leave()
		return "", err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd, nil
}

func (f *fakeTransport) List(dir string) ([]DirectoryEntry, error) {
	if err := f.enter("list", dir); err != nil {
		f.leave()
		return nil, err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, isFile := f.files[dir]; isFile {
		return nil, fmt.Errorf("%s: %w", dir, syscall.ENOTDIR)
	}
	if !f.dirs[dir] {
		return nil, fmt.Errorf("%s: %w", dir, fs.ErrNotExist)
	}

	var entries []DirectoryEntry
	if dir != "/" {
		entries = append(entries, DirectoryEntry{Name: ".", Type: TypeDir}, DirectoryEntry{Name: "..", Type: TypeDir})
	}
	for p := range f.dirs {
		if p != "/" && path.Dir(p) == dir {
			entries = append(entries, DirectoryEntry{Name: path.Base(p), Type: TypeDir})
		}
	}
	for p, data := range f.files {
		if path.Dir(p) == dir {
			entries = append(entries, DirectoryEntry{Name: path.Base(p), Type: TypeFile, Size: int64(len(data))})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *fakeTransport) Exists(p string) (bool, error) {
	if err := f.enter("exists", p); err != nil {
		f.leave()
		return false, err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	_, isFile := f.files[p]
	return isFile || f.dirs[p], nil
}

func (f *fakeTransport) MakeDir(p string) error {
	if err := f.enter("mkdir", p); err != nil {
		f.leave()
		return err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirs[path.Dir(p)] {
		return fmt.Errorf("%s: %w", path.Dir(p), fs.ErrNotExist)
	}
	f.dirs[p] = true
	return nil
}

func (f *fakeTransport) Remove(p string) error {
	if err := f.enter("remove", p); err != nil {
		f.leave()
		return err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[p]; ok {
		delete(f.files, p)
		return nil
	}
	if !f.dirs[p] {
		return fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	for k := range f.files {
		if strings.HasPrefix(k, p+"/") {
			delete(f.files, k)
		}
	}
	for k := range f.dirs {
		if k == p || strings.HasPrefix(k, p+"/") {
			delete(f.dirs, k)
		}
	}
	return nil
}

func (f *fakeTransport) Rename(from, to string) error {
	if err := f.enter("rename", from); err != nil {
		f.leave()
		return err
	}
	defer f.leave()
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.files[from]; ok {
		delete(f.files, from)
		f.files[to] = data
		return nil
	}
	if !f.dirs[from] {
		return fmt.Errorf("%s: %w", from, fs.ErrNotExist)
	}
	delete(f.dirs, from)
	f.dirs[to] = true
	return nil
}

func (f *fakeTransport) Store(p string, r io.Reader) error {
	if err := f.enter("store", p); err != nil {
		f.leave()
		return err
	}
	defer f.leave()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirs[path.Dir(p)] {
		return fmt.Errorf("%s: %w", path.Dir(p), fs.ErrNotExist)
	}
	f.files[p] = data
	return nil
}

func (f *fakeTransport) Retrieve(p string, w io.Writer) (int64, error) {
	if err := f.enter("retrieve", p); err != nil {
		f.leave()
		return 0, err
	}
	defer f.leave()
	f.mu.Lock()
	data, ok := f.files[p]
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return io.Copy(w, bytes.NewReader(data))
}

func (f *fakeTransport) Noop() error {
	if err := f.enter("noop", ""); err != nil {
		f.leave()
		return err
	}
	defer f.leave()
	f.mu.Lock()
	f.noops++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) putFile(p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[p] = []byte(content)
}

func (f *fakeTransport) putDir(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[p] = true
}

// newFakeSession returns a connected session over a fresh fake transport.
func newFakeSession(t interface {
	Helper()
	Fatalf(string, ...any)
	Cleanup(func())
}, opts ...Option) (*Session, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	opts = append([]Option{WithTransport(ft), WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	s, err := Dial(context.Background(), &Config{Kind: "fake"}, opts...)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(s.Disconnect)
	return s, ft
}

// waitFor polls cond until it holds or a second passes.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
