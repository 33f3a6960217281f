package ratelimit

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		bytesPerSecond int64
		wantNil        bool
	}{
		{"valid", 1024, false},
		{"zero is unlimited", 0, true},
		{"negative is unlimited", -1, true},
		{"one byte", 1, false},
		{"ten megabytes", 10 * 1024 * 1024, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(tt.bytesPerSecond)
			if (l == nil) != tt.wantNil {
				t.Fatalf("New(%d) = %v, want nil: %v", tt.bytesPerSecond, l, tt.wantNil)
			}
			want := tt.bytesPerSecond
			if tt.wantNil {
				want = 0
			}
			if got := l.Limit(); got != want {
				t.Errorf("Limit() = %d, want %d", got, want)
			}
		})
	}
}

func TestLimiter_BurstCapped(t *testing.T) {
	if l := New(10 * 1024 * 1024); l.burst != maxBurst {
		t.Errorf("burst = %d, want %d", l.burst, maxBurst)
	}

	l := New(100)
	if l.burst != 100 {
		t.Errorf("burst = %d, want 100", l.burst)
	}
	if got := l.chunk(4096); got != 100 {
		t.Errorf("chunk(4096) = %d, want 100", got)
	}
}

func TestNilLimiterPassesThrough(t *testing.T) {
	r := bytes.NewReader(nil)
	if got := NewReader(r, nil); got != r {
		t.Error("NewReader(r, nil) wrapped the reader")
	}
	var buf bytes.Buffer
	if got := NewWriter(&buf, nil); got != &buf {
		t.Error("NewWriter(w, nil) wrapped the writer")
	}

	l := New(1024)
	if NewReader(r, l) == io.Reader(r) {
		t.Error("NewReader did not wrap with a limiter")
	}
	if NewWriter(&buf, l) == io.Writer(&buf) {
		t.Error("NewWriter did not wrap with a limiter")
	}
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func TestThrottle(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		rate     int64
		min, max time.Duration
	}{
		{"1KB at 10KB/s", 1024, 10 * 1024, 50 * time.Millisecond, time.Second},
		{"10KB at 5KB/s", 10 * 1024, 5 * 1024, 1500 * time.Millisecond, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run("read "+tt.name, func(t *testing.T) {
			t.Parallel()
			data := pattern(tt.size)

			start := time.Now()
			got, err := io.ReadAll(NewReader(bytes.NewReader(data), New(tt.rate)))
			elapsed := time.Since(start)

			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, data) {
				t.Error("data mismatch")
			}
			if elapsed < tt.min || elapsed > tt.max {
				t.Errorf("read took %v, want between %v and %v", elapsed, tt.min, tt.max)
			}
		})

		t.Run("write "+tt.name, func(t *testing.T) {
			t.Parallel()
			data := pattern(tt.size)
			var buf bytes.Buffer

			start := time.Now()
			n, err := NewWriter(&buf, New(tt.rate)).Write(data)
			elapsed := time.Since(start)

			if err != nil || n != len(data) {
				t.Fatalf("Write = %d, %v", n, err)
			}
			if !bytes.Equal(buf.Bytes(), data) {
				t.Error("data mismatch")
			}
			if elapsed < tt.min || elapsed > tt.max {
				t.Errorf("write took %v, want between %v and %v", elapsed, tt.min, tt.max)
			}
		})
	}
}

func TestReader_SmallBuffers(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 300)
	got, err := io.ReadAll(NewReader(bytes.NewReader(data), New(1<<20)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("data mismatch")
	}
}

func TestUnlimited(t *testing.T) {
	data := pattern(10 * 1024)

	start := time.Now()
	got, err := io.ReadAll(NewReader(bytes.NewReader(data), nil))
	if err != nil || len(got) != len(data) {
		t.Fatalf("ReadAll = %d bytes, %v", len(got), err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("unlimited read took %v", elapsed)
	}
}

func BenchmarkReader(b *testing.B) {
	data := make([]byte, 1024)
	l := New(1024 * 1024)
	for b.Loop() {
		if _, err := io.ReadAll(NewReader(bytes.NewReader(data), l)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkWriter(b *testing.B) {
	data := make([]byte, 1024)
	l := New(1024 * 1024)
	for b.Loop() {
		var buf bytes.Buffer
		if _, err := NewWriter(&buf, l).Write(data); err != nil {
			b.Fatal(err)
		}
	}
}
