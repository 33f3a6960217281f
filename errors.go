package xfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"syscall"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
)

// Kind classifies a failed operation.
type Kind int

const (
	// KindConnection covers unreachable or refused endpoints, rejected
	// credentials, operations issued while not connected and lost links.
	KindConnection Kind = iota + 1

	// KindNotFound means the target path does not exist.
	KindNotFound

	// KindPermission means the endpoint denied the operation.
	KindPermission

	// KindConflict means the destination exists or has the wrong type.
	KindConflict

	// KindTransfer means an upload or download was interrupted or rejected.
	KindTransfer

	// KindProtocol means the transport returned something the session could
	// not interpret, or the request itself was malformed.
	KindProtocol
)

// Sentinels for errors.Is. Every *OpError matches exactly one of them.
var (
	ErrConnection = errors.New("connection error")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrConflict   = errors.New("conflict")
	ErrTransfer   = errors.New("transfer error")
	ErrProtocol   = errors.New("protocol error")
)

var (
	// ErrNotConnected is wrapped by operations issued while the session is
	// not in the Connected state.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidPath is wrapped when a required path argument is empty.
	ErrInvalidPath = errors.New("invalid path")
)

var errRemoveRoot = fmt.Errorf("cannot remove root: %w", fs.ErrPermission)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindNotFound:
		return "not found"
	case KindPermission:
		return "permission"
	case KindConflict:
		return "conflict"
	case KindTransfer:
		return "transfer"
	case KindProtocol:
		return "protocol"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindNotFound:
		return ErrNotFound
	case KindPermission:
		return ErrPermission
	case KindConflict:
		return ErrConflict
	case KindTransfer:
		return ErrTransfer
	}
	return ErrProtocol
}

// OpError describes a failed session operation with enough context (the
// operation, its target paths and the error kind) to log or retry it.
type OpError struct {
	// Op is the operation name, e.g. "mkdir" or "upload".
	Op string

	// Path is the primary target path.
	Path string

	// Dest is the destination path for two-path operations (move, transfers).
	Dest string

	// Kind classifies the failure.
	Kind Kind

	// Err is the underlying transport or local error.
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	target := e.Path
	if e.Dest != "" {
		target = e.Path + " -> " + e.Dest
	}
	if target == "" {
		return fmt.Sprintf("xfer: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("xfer: %s %s: %s: %v", e.Op, target, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *OpError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// IsTemporary reports whether err is a transient server-side condition
// (an FTP 4xx reply, a refused or timed out dial). Callers own retry
// decisions; the session never retries on its own.
func IsTemporary(err error) bool {
	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		return tpe.Code >= 400 && tpe.Code < 500
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func newOpError(op, p string, kind Kind, err error) *OpError {
	return &OpError{Op: op, Path: p, Kind: kind, Err: err}
}

// wrapError classifies a transport error for op. An *OpError passes through
// untouched and context errors are returned as they are.
func wrapError(op, p, dest string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &OpError{Op: op, Path: p, Dest: dest, Kind: classify(op, err), Err: err}
}

// classify maps a transport error to a Kind. Unknown errors of transfer
// operations are transfer failures; everything else unknown is a protocol
// failure.
func classify(op string, err error) Kind {
	if isConnectionLost(err) {
		return KindConnection
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	case errors.Is(err, fs.ErrPermission):
		return KindPermission
	case errors.Is(err, fs.ErrExist), errors.Is(err, syscall.ENOTDIR),
		errors.Is(err, syscall.EISDIR), errors.Is(err, syscall.ENOTEMPTY):
		return KindConflict
	}

	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		return classifyFTPCode(op, tpe.Code)
	}

	var se *sftp.StatusError
	if errors.As(err, &se) {
		return classifySFTPCode(op, se.Code)
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return KindConnection
	}

	if isTransferOp(op) {
		return KindTransfer
	}
	return KindProtocol
}

func classifyFTPCode(op string, code int) Kind {
	switch {
	case code == ftp.StatusNotAvailable, code == ftp.StatusNotLoggedIn,
		code == 430, code == 332:
		return KindConnection
	case code == ftp.StatusFileUnavailable, code == ftp.StatusFileActionIgnored:
		// MakeDir checks for an existing target first, so a 550 there
		// means a missing parent.
		return KindNotFound
	case code == ftp.StatusBadFileName:
		return KindConflict
	case code == ftp.StatusTransfertAborted, code == ftp.StatusExceededStorage,
		code == 425, code == 451, code == 452:
		return KindTransfer
	}
	if isTransferOp(op) {
		return KindTransfer
	}
	return KindProtocol
}

func classifySFTPCode(op string, code uint32) Kind {
	switch code {
	case uint32(sftp.ErrSSHFxNoSuchFile):
		return KindNotFound
	case uint32(sftp.ErrSSHFxPermissionDenied):
		return KindPermission
	case uint32(sftp.ErrSSHFxNoConnection), uint32(sftp.ErrSSHFxConnectionLost):
		return KindConnection
	case uint32(sftp.ErrSSHFxFailure):
		// Servers answer a bare failure for existing directories and
		// non-empty removals.
		if op == "mkdir" || op == "remove" || op == "move" {
			return KindConflict
		}
	}
	if isTransferOp(op) {
		return KindTransfer
	}
	return KindProtocol
}

func isTransferOp(op string) bool {
	return op == "upload" || op == "download"
}

// isConnectionLost reports whether err means the transport is no longer
// usable. Such errors end the session.
func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		return tpe.Code == ftp.StatusNotAvailable
	}
	var oe *net.OpError
	return errors.As(err, &oe) && !oe.Timeout()
}
