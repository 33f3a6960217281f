// Package ratelimit throttles transfer streams to a fixed number of bytes
// per second.
//
// It is a thin io.Reader/io.Writer layer over golang.org/x/time/rate. The
// session wraps upload sources and download sinks with it when a bandwidth
// limit is configured.
package ratelimit

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// maxBurst caps the bucket size so slow links still see steady progress.
const maxBurst = 64 * 1024

// Limiter limits the rate of data transfer to a specified bytes per second.
// A single Limiter may be shared by several readers and writers; they then
// split the rate between them.
type Limiter struct {
	lim   *rate.Limiter
	burst int
}

// New creates a limiter for bytesPerSecond. It returns nil, meaning
// unlimited, when bytesPerSecond is zero or negative.
//
// The bucket starts empty so the configured rate holds from the first byte.
func New(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := maxBurst
	if bytesPerSecond < int64(burst) {
		burst = int(bytesPerSecond)
	}

	lim := rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
	lim.AllowN(time.Now(), burst)

	return &Limiter{lim: lim, burst: burst}
}

// Limit returns the configured rate in bytes per second, or 0 for a nil
// limiter.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return int64(l.lim.Limit())
}

// chunk returns how many of n bytes may be moved in one step.
func (l *Limiter) chunk(n int) int {
	if n > l.burst {
		return l.burst
	}
	return n
}

// take blocks until n tokens are available. n must not exceed the burst.
func (l *Limiter) take(n int) {
	if n <= 0 {
		return
	}
	// WaitN only fails for n > burst or a cancelled context, neither of
	// which can happen here.
	_ = l.lim.WaitN(context.Background(), n)
}

type reader struct {
	r       io.Reader
	limiter *Limiter
}

// NewReader creates a rate-limited reader.
// If limiter is nil, returns the original reader unchanged.
func NewReader(r io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &reader{r: r, limiter: limiter}
}

// Read implements io.Reader. Tokens are charged for the bytes actually read.
func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err := r.r.Read(p[:r.limiter.chunk(len(p))])
	r.limiter.take(n)
	return n, err
}

type writer struct {
	w       io.Writer
	limiter *Limiter
}

// NewWriter creates a rate-limited writer.
// If limiter is nil, returns the original writer unchanged.
func NewWriter(w io.Writer, limiter *Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &writer{w: w, limiter: limiter}
}

// Write implements io.Writer. Tokens are consumed before each chunk is
// written to apply backpressure.
func (w *writer) Write(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		size := w.limiter.chunk(len(p) - total)
		w.limiter.take(size)

		n, err := w.w.Write(p[total : total+size])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
