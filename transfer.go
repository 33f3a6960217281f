package xfer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gonzalop/xfer/internal/ratelimit"
)

// Upload copies local files to the remote side and returns the number of
// bytes sent.
//
// With a single local path, remotePath names the destination file unless it
// ends in "/". With several local paths, or a trailing "/", remotePath is a
// directory and each file keeps its base name. Files are sent in order; the
// first failure stops the upload and is returned along with the bytes sent
// so far.
//
// Example:
//
//	n, err := s.Upload(ctx, []string{"report.pdf"}, "/incoming/report.pdf")
func (s *Session) Upload(ctx context.Context, localPaths []string, remotePath string) (int64, error) {
	if len(localPaths) == 0 || remotePath == "" {
		return 0, invalidPath("upload")
	}
	for _, lp := range localPaths {
		if lp == "" {
			return 0, invalidPath("upload")
		}
	}

	base := s.resolve(remotePath)
	asDir := len(localPaths) > 1 || strings.HasSuffix(remotePath, "/")
	targets := make([]string, len(localPaths))
	for i, lp := range localPaths {
		if asDir {
			targets[i] = path.Join(base, filepath.Base(lp))
		} else {
			targets[i] = base
		}
	}

	return submit(ctx, s, "upload", targets, func(t Transport) (int64, error) {
		defer s.cache.invalidate(targets...)

		var total int64
		for i, lp := range localPaths {
			n, err := s.uploadFile(t, lp, targets[i])
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (s *Session) uploadFile(t Transport, localPath, remotePath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, wrapError("upload", localPath, remotePath, err)
	}
	defer s.closeQuietly(f, localPath)

	size := int64(-1)
	if fi, err := f.Stat(); err == nil {
		if fi.IsDir() {
			return 0, wrapError("upload", localPath, remotePath,
				fmt.Errorf("%s is a directory: %w", localPath, syscall.EISDIR))
		}
		size = fi.Size()
	}

	pr := &progressReader{r: f}
	pr.report = func(n int64) {
		s.emit(Event{Kind: EventUploadProgress, Path: remotePath, Bytes: n, Total: size})
	}

	start := time.Now()
	err = t.Store(remotePath, ratelimit.NewReader(pr, s.limiter))
	pr.flush()
	if err != nil {
		return pr.total, wrapError("upload", localPath, remotePath, err)
	}

	if s.metrics != nil {
		s.metrics.RecordTransfer("upload", pr.total, time.Since(start))
	}
	s.emit(Event{Kind: EventUploadComplete, Path: remotePath, Bytes: pr.total, Total: size})
	return pr.total, nil
}

// Download copies remote files to the local side and returns the number of
// bytes received.
//
// With a single remote path, localPath names the destination file unless it
// is an existing directory or ends in a path separator. With several remote
// paths localPath is a directory, created if needed, and each file keeps its
// base name. Each file is written to a temporary sibling first and only
// replaces localPath once it is complete; a failed download leaves no
// partial file and keeps whatever was there before.
//
// Example:
//
//	n, err := s.Download(ctx, []string{"/pub/a.iso", "/pub/b.iso"}, "isos")
func (s *Session) Download(ctx context.Context, remotePaths []string, localPath string) (int64, error) {
	if len(remotePaths) == 0 || localPath == "" {
		return 0, invalidPath("download")
	}
	for _, rp := range remotePaths {
		if rp == "" {
			return 0, invalidPath("download")
		}
	}

	asDir := len(remotePaths) > 1 || strings.HasSuffix(localPath, string(filepath.Separator)) ||
		strings.HasSuffix(localPath, "/")
	if fi, err := os.Stat(localPath); err == nil && fi.IsDir() {
		asDir = true
	}

	sources := make([]string, len(remotePaths))
	targets := make([]string, len(remotePaths))
	for i, rp := range remotePaths {
		sources[i] = s.resolve(rp)
		if asDir {
			targets[i] = filepath.Join(localPath, path.Base(sources[i]))
		} else {
			targets[i] = localPath
		}
	}

	return submit(ctx, s, "download", nil, func(t Transport) (int64, error) {
		if asDir {
			if err := os.MkdirAll(localPath, 0o755); err != nil {
				return 0, wrapError("download", sources[0], localPath, err)
			}
		}

		var total int64
		for i := range sources {
			n, err := s.downloadFile(t, sources[i], targets[i])
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil
	})
}

func (s *Session) downloadFile(t Transport, remotePath, localPath string) (int64, error) {
	size := int64(-1)
	if sz, ok := t.(Sizer); ok {
		if n, err := sz.Size(remotePath); err == nil {
			size = n
		}
	}

	f, err := os.CreateTemp(filepath.Dir(localPath), ".xfer-*")
	if err != nil {
		return 0, wrapError("download", remotePath, localPath, err)
	}
	tmp := f.Name()

	pw := &progressWriter{w: f}
	pw.report = func(n int64) {
		s.emit(Event{Kind: EventDownloadProgress, Path: remotePath, Bytes: n, Total: size})
	}

	start := time.Now()
	_, err = t.Retrieve(remotePath, ratelimit.NewWriter(pw, s.limiter))
	pw.flush()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		if err = os.Chmod(tmp, 0o644); err == nil {
			err = os.Rename(tmp, localPath)
		}
	}
	if err != nil {
		if rerr := os.Remove(tmp); rerr != nil {
			s.logger.Debug("failed to remove partial download", "path", tmp, "error", rerr)
		}
		return pw.total, wrapError("download", remotePath, localPath, err)
	}

	if s.metrics != nil {
		s.metrics.RecordTransfer("download", pw.total, time.Since(start))
	}
	s.emit(Event{Kind: EventDownloadComplete, Path: remotePath, Bytes: pw.total, Total: size})
	return pw.total, nil
}
