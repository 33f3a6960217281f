package xfer

import "io"

// progressStep is the minimum number of bytes between two progress reports
// of one transfer.
const progressStep = 32 * 1024

// progressCounter counts the bytes of one transfer and reports the running
// total every progressStep bytes.
type progressCounter struct {
	total    int64
	reported int64
	report   func(bytesTransferred int64)
}

func (c *progressCounter) add(n int) {
	if n <= 0 {
		return
	}
	c.total += int64(n)
	if c.report != nil && c.total-c.reported >= progressStep {
		c.reported = c.total
		c.report(c.total)
	}
}

// flush reports the final total if it has not been reported yet.
func (c *progressCounter) flush() {
	if c.report != nil && c.total != c.reported {
		c.reported = c.total
		c.report(c.total)
	}
}

// progressReader wraps the local source of an upload.
type progressReader struct {
	progressCounter
	r io.Reader
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	pr.add(n)
	return n, err
}

// progressWriter wraps the local sink of a download.
type progressWriter struct {
	progressCounter
	w io.Writer
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.add(n)
	return n, err
}
