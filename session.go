package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/gonzalop/xfer/internal/ratelimit"
)

// State is the lifecycle state of a Session.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is one logical connection to a remote file-transfer endpoint.
//
// Every method is safe for concurrent use. Calls are serialized onto a
// single dispatch queue, so at most one request is on the wire at a time;
// mutations of the same path additionally wait for each other in call
// order. Independent Sessions run fully in parallel.
//
// Relative paths are resolved against the working directory at the time of
// the call.
type Session struct {
	id  string
	cfg Config

	logger          *slog.Logger
	idleTimeout     time.Duration
	bandwidthLimit  int64
	limiter         *ratelimit.Limiter
	cache           *listingCache
	metrics         MetricsCollector
	hostKeyCallback ssh.HostKeyCallback
	transport       Transport // set by WithTransport

	events *eventBus
	paths  *pathChain

	mu             sync.Mutex
	state          State
	active         Transport
	queue          *dispatchQueue
	cwd            string
	cancelConnect  context.CancelFunc
	connectDone    chan struct{}
	closeRequested bool
}

// New creates a disconnected Session for cfg. Call Connect to use it.
func New(cfg *Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	c := *cfg
	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    c,
		logger: slog.New(slog.DiscardHandler),
		events: newEventBus(),
		paths:  newPathChain(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.transport == nil {
		if _, err := lookupTransport(c.Kind); err != nil {
			return nil, err
		}
	}
	if s.hostKeyCallback != nil {
		s.cfg.HostKeyCallback = s.hostKeyCallback
	}
	s.limiter = ratelimit.New(s.bandwidthLimit)
	s.logger = s.logger.With("session", s.id)
	return s, nil
}

// Dial creates a Session for cfg and connects it.
//
// Example:
//
//	s, err := xfer.Dial(ctx, &xfer.Config{
//	    Kind:     "sftp",
//	    Host:     "files.example.com",
//	    User:     "deploy",
//	    Password: os.Getenv("DEPLOY_PASSWORD"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Disconnect()
func Dial(ctx context.Context, cfg *Config, opts ...Option) (*Session, error) {
	s, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Open is Dial with the endpoint given as a URL, see ParseURL.
func Open(ctx context.Context, rawURL string, opts ...Option) (*Session, error) {
	cfg, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, cfg, opts...)
}

// ID returns the random identifier attached to the session's logs and
// events.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Config returns a copy of the session's endpoint configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Subscribe registers handler for events of kind. Events other than
// EventClosed and EventError are only delivered while the session is
// Connected.
func (s *Session) Subscribe(kind EventKind, handler Handler) *Subscription {
	return s.events.add(kind, handler)
}

func (s *Session) emit(ev Event) {
	if !ev.Kind.terminal() && s.State() != Connected {
		return
	}
	ev.SessionID = s.id
	ev.Time = time.Now()
	s.events.publish(ev)
}

// Connect connects and authenticates. A Session that reached Disconnected,
// by Disconnect or by a lost connection, may connect again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Connected:
		s.mu.Unlock()
		return nil
	case Connecting, Closing:
		state := s.state
		s.mu.Unlock()
		return newOpError("connect", s.cfg.String(), KindConnection,
			fmt.Errorf("session is %s", state))
	}
	t := s.transport
	if t == nil {
		factory, err := lookupTransport(s.cfg.Kind)
		if err != nil {
			s.mu.Unlock()
			return newOpError("connect", s.cfg.String(), KindProtocol, err)
		}
		t = factory(s.logger)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	s.state = Connecting
	s.cancelConnect = cancel
	s.connectDone = done
	s.closeRequested = false
	s.mu.Unlock()

	s.logger.Info("connecting", "endpoint", s.cfg.String())
	start := time.Now()

	cwd, err := s.connectTransport(ctx, t)
	if s.metrics != nil {
		s.metrics.RecordConnection(s.cfg.Kind, err == nil)
	}

	s.mu.Lock()
	s.cancelConnect = nil
	s.connectDone = nil
	if err == nil && s.closeRequested {
		err = errors.New("disconnected while connecting")
		_ = t.Close()
	}
	if err != nil {
		closeRequested := s.closeRequested
		s.state = Disconnected
		s.mu.Unlock()
		s.logger.Warn("connect failed", "endpoint", s.cfg.String(), "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil && !closeRequested {
			return ctxErr
		}
		return newOpError("connect", s.cfg.String(), KindConnection, err)
	}

	q := newDispatchQueue()
	s.state = Connected
	s.active = t
	s.queue = q
	s.cwd = cwd
	s.mu.Unlock()

	go q.run(t, func(err error) { s.connectionLost(q, t, err) })
	s.startKeepAlive(q, t)

	s.logger.Info("connected", "endpoint", s.cfg.String(), "cwd", cwd,
		"bandwidth_limit", s.limiter.Limit(), "duration", time.Since(start))
	s.emit(Event{Kind: EventConnected, Path: cwd})
	return nil
}

func (s *Session) connectTransport(ctx context.Context, t Transport) (string, error) {
	cfg := s.cfg
	if err := t.Connect(ctx, &cfg); err != nil {
		return "", err
	}
	cwd, err := t.CurrentDir()
	if err != nil {
		_ = t.Close()
		return "", err
	}
	return cwd, nil
}

// Disconnect closes the session. Queued operations fail with a Connection
// error; the operation on the wire, if any, is allowed to finish first. A
// Connect in progress is cancelled and Disconnect waits for it to give up.
// Disconnect always leaves the session Disconnected: errors from closing the
// transport are logged, not returned.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case Connecting:
		s.closeRequested = true
		if s.cancelConnect != nil {
			s.cancelConnect()
		}
		done := s.connectDone
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return
	case Connected:
	default:
		s.mu.Unlock()
		return
	}
	s.state = Closing
	q, t := s.queue, s.active
	s.mu.Unlock()

	q.close(notConnected("disconnect"))
	<-q.done

	if err := t.Close(); err != nil {
		s.logger.Warn("close failed", "error", err)
	}
	s.cache.purge()

	s.mu.Lock()
	s.state = Disconnected
	s.active = nil
	s.queue = nil
	s.mu.Unlock()

	s.logger.Info("disconnected")
	s.emit(Event{Kind: EventClosed})
}

// connectionLost runs on the dispatch goroutine of q when an operation
// reports that the link is gone.
func (s *Session) connectionLost(q *dispatchQueue, t Transport, cause error) {
	s.mu.Lock()
	if s.queue != q || s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.state = Disconnected
	s.active = nil
	s.queue = nil
	s.mu.Unlock()

	s.logger.Warn("connection lost", "error", cause)
	q.close(newOpError("", "", KindConnection, fmt.Errorf("connection lost: %w", cause)))

	if err := t.Close(); err != nil {
		s.logger.Debug("close after connection loss failed", "error", err)
	}
	s.cache.purge()

	s.emit(Event{Kind: EventError, Err: cause})
	s.emit(Event{Kind: EventClosed})
}

func notConnected(op string) error {
	return newOpError(op, "", KindConnection, ErrNotConnected)
}

// resolve makes p absolute against the working directory.
func (s *Session) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	s.mu.Lock()
	cwd := s.cwd
	s.mu.Unlock()
	return path.Join(cwd, p)
}

// submit queues fn as operation op and waits for its result. keys are the
// remote paths fn mutates; fn is dispatched only after every earlier
// mutation of those paths has settled.
func submit[T any](ctx context.Context, s *Session, op string, keys []string, fn func(Transport) (T, error)) (T, error) {
	var zero T

	s.mu.Lock()
	q := s.queue
	connected := s.state == Connected
	s.mu.Unlock()
	if !connected {
		return zero, notConnected(op)
	}

	res := newResult[T]()
	ready, release := s.paths.acquire(keys)
	finish := func(v T, err error) {
		if res.settle(v, err) {
			release()
		}
	}

	qop := &operation{
		name: op,
		ctx:  ctx,
		exec: func(t Transport) error {
			start := time.Now()
			v, err := fn(t)
			if s.metrics != nil {
				s.metrics.RecordOperation(op, err == nil, time.Since(start))
			}
			s.logger.Debug("operation", "op", op, "keys", keys,
				"duration", time.Since(start), "error", err)
			finish(v, err)
			return err
		},
		abort: func(err error) {
			var oe *OpError
			if errors.As(err, &oe) && oe.Op != op {
				cp := *oe
				cp.Op = op
				err = &cp
			}
			finish(zero, err)
		},
	}

	select {
	case <-ready:
		q.push(qop)
	default:
		go func() {
			<-ready
			q.push(qop)
		}()
	}

	return res.wait(ctx)
}

func invalidPath(op string) error {
	return newOpError(op, "", KindProtocol, ErrInvalidPath)
}

// ChangeDir changes the working directory and returns the new one.
func (s *Session) ChangeDir(ctx context.Context, p string) (string, error) {
	if p == "" {
		return "", invalidPath("cd")
	}
	abs := s.resolve(p)
	return submit(ctx, s, "cd", nil, func(t Transport) (string, error) {
		dir, err := t.ChangeDir(abs)
		if err != nil {
			return "", wrapError("cd", abs, "", err)
		}
		s.mu.Lock()
		s.cwd = dir
		s.mu.Unlock()
		return dir, nil
	})
}

// CurrentDir asks the transport for the working directory.
func (s *Session) CurrentDir(ctx context.Context) (string, error) {
	return submit(ctx, s, "pwd", nil, func(t Transport) (string, error) {
		dir, err := t.CurrentDir()
		if err != nil {
			return "", wrapError("pwd", "", "", err)
		}
		s.mu.Lock()
		s.cwd = dir
		s.mu.Unlock()
		return dir, nil
	})
}

// List returns the entries of dir in the order the transport reports them.
// An empty dir lists the working directory. The "." and ".." entries are
// never returned. Hidden entries, those whose name starts with a dot, are
// excluded unless includeHidden is set.
func (s *Session) List(ctx context.Context, dir string, includeHidden bool) ([]DirectoryEntry, error) {
	if dir == "" {
		dir = "."
	}
	abs := s.resolve(dir)
	return submit(ctx, s, "list", nil, func(t Transport) ([]DirectoryEntry, error) {
		entries, err := t.List(abs)
		if err != nil {
			return nil, wrapError("list", abs, "", err)
		}
		s.cache.put(abs, entries)
		return filterEntries(entries, includeHidden), nil
	})
}

// Exists reports whether p exists. Absence, and any failure other than a
// connection failure, is reported as false with a nil error. An empty path
// does not exist.
func (s *Session) Exists(ctx context.Context, p string) (bool, error) {
	if s.State() != Connected {
		return false, notConnected("exists")
	}
	if p == "" {
		return false, nil
	}
	abs := s.resolve(p)
	if abs == "/" {
		return true, nil
	}
	if found, ok := s.cache.exists(abs); ok {
		return found, nil
	}

	found, err := submit(ctx, s, "exists", nil, func(t Transport) (bool, error) {
		ok, err := t.Exists(abs)
		if err != nil {
			return false, wrapError("exists", abs, "", err)
		}
		return ok, nil
	})
	if err == nil {
		return found, nil
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false, err
	}
	s.logger.Debug("exists treated as absent", "path", abs, "error", err)
	return false, nil
}

// MakeDir creates the directory p. It fails with a Conflict error if p
// already exists.
func (s *Session) MakeDir(ctx context.Context, p string) error {
	if p == "" {
		return invalidPath("mkdir")
	}
	abs := s.resolve(p)
	_, err := submit(ctx, s, "mkdir", []string{abs}, func(t Transport) (struct{}, error) {
		defer s.cache.invalidate(abs)

		exists, err := t.Exists(abs)
		if err != nil {
			return struct{}{}, wrapError("mkdir", abs, "", err)
		}
		if exists {
			return struct{}{}, newOpError("mkdir", abs, KindConflict, fs.ErrExist)
		}
		return struct{}{}, wrapError("mkdir", abs, "", t.MakeDir(abs))
	})
	return err
}

// Remove deletes the file p, or the directory p with everything in it.
// The root directory is never removed; asking for it fails with a
// Permission error.
func (s *Session) Remove(ctx context.Context, p string) error {
	if p == "" {
		return invalidPath("remove")
	}
	abs := s.resolve(p)
	if abs == "/" {
		return newOpError("remove", abs, KindPermission, errRemoveRoot)
	}
	_, err := submit(ctx, s, "remove", []string{abs}, func(t Transport) (struct{}, error) {
		defer s.cache.invalidate(abs)
		return struct{}{}, wrapError("remove", abs, "", t.Remove(abs))
	})
	return err
}

// Move renames from to to and returns the canonical destination path. It
// fails with a Conflict error if to already exists.
func (s *Session) Move(ctx context.Context, from, to string) (string, error) {
	if from == "" || to == "" {
		return "", invalidPath("move")
	}
	src, dst := s.resolve(from), s.resolve(to)
	return submit(ctx, s, "move", []string{src, dst}, func(t Transport) (string, error) {
		defer s.cache.invalidate(src, dst)

		exists, err := t.Exists(dst)
		if err != nil {
			return "", wrapError("move", src, dst, err)
		}
		if exists {
			return "", &OpError{Op: "move", Path: src, Dest: dst, Kind: KindConflict, Err: fs.ErrExist}
		}
		if err := t.Rename(src, dst); err != nil {
			return "", wrapError("move", src, dst, err)
		}
		return dst, nil
	})
}

// closeQuietly closes c, logging failures.
func (s *Session) closeQuietly(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		s.logger.Debug("close failed", "what", what, "error", err)
	}
}
