package xfer

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/ssh"
)

// Option is a functional option for configuring a Session.
type Option func(*Session) error

// WithLogger sets the logger. Every dispatched operation is logged at debug
// level with the session ID attached; connection changes at info level.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	s, _ := xfer.Dial(ctx, cfg, xfer.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithIdleTimeout sets the maximum idle time before a keep-alive NOOP is
// queued. Only transports implementing Pinger are kept alive. Set to 0 to
// disable (the default).
func WithIdleTimeout(timeout time.Duration) Option {
	return func(s *Session) error {
		if timeout < 0 {
			return fmt.Errorf("idle timeout cannot be negative")
		}
		s.idleTimeout = timeout
		return nil
	}
}

// WithBandwidthLimit limits uploads and downloads to bytesPerSecond. The
// limit is shared by all transfers of the session. Zero means unlimited.
func WithBandwidthLimit(bytesPerSecond int64) Option {
	return func(s *Session) error {
		if bytesPerSecond < 0 {
			return fmt.Errorf("bandwidth limit cannot be negative")
		}
		s.bandwidthLimit = bytesPerSecond
		return nil
	}
}

// WithListingCache keeps up to size directory listings for ttl. Exists is
// answered from a cached listing of the parent directory without queuing;
// every mutation invalidates the listings it affects.
func WithListingCache(size int, ttl time.Duration) Option {
	return func(s *Session) error {
		if size <= 0 {
			return fmt.Errorf("listing cache size must be positive")
		}
		if ttl <= 0 {
			return fmt.Errorf("listing cache ttl must be positive")
		}
		s.cache = newListingCache(size, ttl)
		return nil
	}
}

// WithMetrics reports operations, transfers and connection attempts to m.
// See the metrics package for a Prometheus implementation.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Session) error {
		s.metrics = m
		return nil
	}
}

// WithTransport makes the session drive t instead of the transport
// registered for Config.Kind.
func WithTransport(t Transport) Option {
	return func(s *Session) error {
		if t == nil {
			return fmt.Errorf("transport cannot be nil")
		}
		s.transport = t
		return nil
	}
}

// WithHostKeyCallback sets the SSH host key check used by the sftp
// transport. It takes precedence over Config.KnownHostsFile.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(s *Session) error {
		s.hostKeyCallback = cb
		return nil
	}
}
