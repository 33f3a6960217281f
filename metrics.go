package xfer

import "time"

// MetricsCollector is an optional interface for collecting session metrics.
// Implementations can send metrics to monitoring systems like Prometheus,
// StatsD, DataDog, etc.
//
// Methods are called from the session's dispatch goroutine and should not
// block.
type MetricsCollector interface {
	// RecordOperation records one dispatched operation.
	// op is the operation name (e.g., "list", "mkdir", "upload").
	RecordOperation(op string, success bool, duration time.Duration)

	// RecordTransfer records one transferred file.
	// direction is either "upload" or "download".
	RecordTransfer(direction string, bytes int64, duration time.Duration)

	// RecordConnection records a connection attempt.
	// kind is the transport kind from Config.Kind.
	RecordConnection(kind string, success bool)
}
