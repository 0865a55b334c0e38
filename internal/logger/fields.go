package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// These keys are used consistently across ingestion, publishing, and
// transport log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// Folders & Versions
	// ========================================================================
	KeyFolderID     = "folder_id"     // Folder identifier
	KeyLocalPath    = "local_path"    // Folder's local filesystem path
	KeyVersion      = "version"       // Folder version number
	KeyFilesTotal   = "files_total"   // Files in a version's complete set
	KeyFilesChanged = "files_changed" // Files added or modified in a sync pass
	KeyAccessMode   = "access_mode"   // public | protected | private

	// ========================================================================
	// Segments & Redundancy
	// ========================================================================
	KeySegmentID      = "segment_id"      // Segment identifier
	KeySegmentIndex   = "segment_index"   // Segment's position within its file
	KeySegmentsTotal  = "segments_total"  // Segments a file was split into
	KeySegmentsStaged = "segments_staged" // Segments staged for upload in a sync pass
	KeyParityShards   = "parity_shards"   // Reed-Solomon parity shard count
	KeyShardSize      = "shard_size"      // Bytes per redundancy shard

	// ========================================================================
	// Usenet / NNTP
	// ========================================================================
	KeyNewsgroup    = "newsgroup"     // Target newsgroup
	KeyMessageID    = "message_id"    // NNTP Message-ID of a posted or fetched article
	KeySubject      = "subject"       // Obfuscated article subject
	KeyServer       = "server"        // NNTP server name from pool configuration
	KeyPoolStrategy = "pool_strategy" // NNTP pool selection strategy

	// ========================================================================
	// Upload / Download Queues
	// ========================================================================
	KeyEntryID    = "entry_id"    // Upload or download queue entry identifier
	KeyWorker     = "worker"      // Worker goroutine index
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
	KeyPending    = "pending"     // Queue entries still pending at shutdown
	KeyBytesRead    = "bytes_read"    // Actual bytes read
	KeyBytesWritten = "bytes_written" // Actual bytes written

	// ========================================================================
	// Shares & Access
	// ========================================================================
	KeyShareID   = "share_id"   // Published share identifier
	KeyOwnerUser = "owner_user" // Owning user ID
	KeyExpiresAt = "expires_at" // Share expiry timestamp
	KeyRevoked   = "revoked"    // Share revocation state

	// ========================================================================
	// HTTP / API
	// ========================================================================
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // HTTP request path
	KeyStatus    = "status"     // HTTP status code
	KeyRequestID = "request_id" // Request ID assigned by chi middleware
	KeyClientIP  = "client_ip"  // API client IP address

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeySource     = "source"      // Config source: file path or "defaults"
	KeyOperation  = "operation"   // Sub-operation type for complex operations
	KeyUsername   = "username"    // Local account username
	KeyDriver     = "driver"      // Database driver: sqlite | postgres
	KeyPort       = "port"        // TCP port a server listens on
	KeyEndpoint   = "endpoint"    // Remote endpoint (OTLP collector, etc.)
	KeySampleRate = "sample_rate" // Trace sampling rate
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// Folders & Versions
// ----------------------------------------------------------------------------

// FolderID returns a slog.Attr for a folder identifier
func FolderID(id string) slog.Attr {
	return slog.String(KeyFolderID, id)
}

// LocalPath returns a slog.Attr for a folder's local filesystem path
func LocalPath(p string) slog.Attr {
	return slog.String(KeyLocalPath, p)
}

// Version returns a slog.Attr for a folder version number
func Version(v int) slog.Attr {
	return slog.Int(KeyVersion, v)
}

// FilesTotal returns a slog.Attr for the total files in a version
func FilesTotal(n int) slog.Attr {
	return slog.Int(KeyFilesTotal, n)
}

// FilesChanged returns a slog.Attr for the files changed in a sync pass
func FilesChanged(n int) slog.Attr {
	return slog.Int(KeyFilesChanged, n)
}

// AccessMode returns a slog.Attr for a share's access mode
func AccessMode(mode string) slog.Attr {
	return slog.String(KeyAccessMode, mode)
}

// ----------------------------------------------------------------------------
// Segments & Redundancy
// ----------------------------------------------------------------------------

// SegmentID returns a slog.Attr for a segment identifier
func SegmentID(id string) slog.Attr {
	return slog.String(KeySegmentID, id)
}

// SegmentIndex returns a slog.Attr for a segment's position within its file
func SegmentIndex(i int) slog.Attr {
	return slog.Int(KeySegmentIndex, i)
}

// SegmentsTotal returns a slog.Attr for the segment count a file was split into
func SegmentsTotal(n int) slog.Attr {
	return slog.Int(KeySegmentsTotal, n)
}

// SegmentsStaged returns a slog.Attr for segments staged for upload in a sync pass
func SegmentsStaged(n int) slog.Attr {
	return slog.Int(KeySegmentsStaged, n)
}

// ParityShards returns a slog.Attr for the Reed-Solomon parity shard count
func ParityShards(n int) slog.Attr {
	return slog.Int(KeyParityShards, n)
}

// ShardSize returns a slog.Attr for the bytes per redundancy shard
func ShardSize(n int) slog.Attr {
	return slog.Int(KeyShardSize, n)
}

// ----------------------------------------------------------------------------
// Usenet / NNTP
// ----------------------------------------------------------------------------

// Newsgroup returns a slog.Attr for the target newsgroup
func Newsgroup(name string) slog.Attr {
	return slog.String(KeyNewsgroup, name)
}

// MessageID returns a slog.Attr for an NNTP Message-ID
func MessageID(id string) slog.Attr {
	return slog.String(KeyMessageID, id)
}

// Subject returns a slog.Attr for an obfuscated article subject
func Subject(s string) slog.Attr {
	return slog.String(KeySubject, s)
}

// Server returns a slog.Attr for an NNTP server name
func Server(name string) slog.Attr {
	return slog.String(KeyServer, name)
}

// PoolStrategy returns a slog.Attr for the NNTP pool selection strategy
func PoolStrategy(strategy string) slog.Attr {
	return slog.String(KeyPoolStrategy, strategy)
}

// ----------------------------------------------------------------------------
// Upload / Download Queues
// ----------------------------------------------------------------------------

// EntryID returns a slog.Attr for an upload or download queue entry identifier
func EntryID(id string) slog.Attr {
	return slog.String(KeyEntryID, id)
}

// Worker returns a slog.Attr for a worker goroutine index
func Worker(id int) slog.Attr {
	return slog.Int(KeyWorker, id)
}

// Attempt returns a slog.Attr for a retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Pending returns a slog.Attr for queue entries still pending at shutdown
func Pending(n int) slog.Attr {
	return slog.Int(KeyPending, n)
}

// BytesRead returns a slog.Attr for actual bytes read
func BytesRead(n int) slog.Attr {
	return slog.Int(KeyBytesRead, n)
}

// BytesWritten returns a slog.Attr for actual bytes written
func BytesWritten(n int) slog.Attr {
	return slog.Int(KeyBytesWritten, n)
}

// ----------------------------------------------------------------------------
// Shares & Access
// ----------------------------------------------------------------------------

// ShareID returns a slog.Attr for a published share identifier
func ShareID(id string) slog.Attr {
	return slog.String(KeyShareID, id)
}

// OwnerUser returns a slog.Attr for an owning user ID
func OwnerUser(id string) slog.Attr {
	return slog.String(KeyOwnerUser, id)
}

// Revoked returns a slog.Attr for a share's revocation state
func Revoked(revoked bool) slog.Attr {
	return slog.Bool(KeyRevoked, revoked)
}

// ----------------------------------------------------------------------------
// HTTP / API
// ----------------------------------------------------------------------------

// Method returns a slog.Attr for an HTTP method
func Method(m string) slog.Attr {
	return slog.String(KeyMethod, m)
}

// Path returns a slog.Attr for an HTTP request path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Status returns a slog.Attr for an HTTP status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// RequestID returns a slog.Attr for a chi middleware request ID
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for an API client's IP address
func ClientIP(ip string) slog.Attr {
	return slog.String(KeyClientIP, ip)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Source returns a slog.Attr for a config source (file path or "defaults")
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for a sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Username returns a slog.Attr for a local account username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Driver returns a slog.Attr for a database driver name
func Driver(name string) slog.Attr {
	return slog.String(KeyDriver, name)
}

// Port returns a slog.Attr for a TCP port
func Port(p int) slog.Attr {
	return slog.Int(KeyPort, p)
}

// Endpoint returns a slog.Attr for a remote endpoint
func Endpoint(e string) slog.Attr {
	return slog.String(KeyEndpoint, e)
}

// SampleRate returns a slog.Attr for a trace sampling rate
func SampleRate(rate float64) slog.Attr {
	return slog.Float64(KeySampleRate, rate)
}
