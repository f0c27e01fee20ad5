// Package audit appends structured JSON-per-line events to stderr
// and a rotating file, independent of the application logger so that
// audit events never propagate to the root logger and the root
// logger never ends up inside the audit trail.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType is one of the two kinds of audit event the log carries.
type EventType string

const (
	DataAccess    EventType = "data_access"
	CodeExecution EventType = "code_execution"
)

const (
	maxFileSizeMB = 10
	maxBackups    = 5
)

// Logger appends audit events to stderr and, when enabled, a rotating
// file under the configured audit directory.
type Logger struct {
	mu        sync.Mutex
	accessOn  bool
	executeOn bool
	file      *lumberjack.Logger
	stderr    *os.File
}

// New builds a Logger. dir is the audit log directory and must be
// non-empty (config.Load defaults it to ~/.canvas-mcp); the rotating
// file writer is configured even when both flags are false. The flags
// are fixed for the Logger's lifetime.
func New(dir string, logAccess, logExecute bool) (*Logger, error) {
	if dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return &Logger{
		accessOn:  logAccess,
		executeOn: logExecute,
		file: &lumberjack.Logger{
			Filename:   filepath.Join(dir, "audit.jsonl"),
			MaxSize:    maxFileSizeMB,
			MaxBackups: maxBackups,
			Compress:   false,
		},
		stderr: os.Stderr,
	}, nil
}

// event is the on-wire shape of one audit line. Timestamp is always
// stamped last by Log*, never accepted as caller input, so a
// caller-supplied "timestamp" field in Fields cannot spoof it.
type event struct {
	Timestamp string         `json:"timestamp"`
	EventType EventType      `json:"event_type"`
	RequestID string         `json:"request_id"`
	Fields    map[string]any `json:"-"`
}

func (e event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["timestamp"] = e.Timestamp
	m["event_type"] = e.EventType
	m["request_id"] = e.RequestID
	return json.Marshal(m)
}

// DataAccessEvent is emitted once per Canvas HTTP round trip.
type DataAccessEvent struct {
	RequestID string
	Method    string
	Endpoint  string
	Status    string // "success" | "error"
	ErrorTag  string // HTTP status code or exception class, never a body
}

// LogDataAccess appends a data_access event if the access flag is on.
func (l *Logger) LogDataAccess(e DataAccessEvent) {
	if !l.accessOn {
		return
	}
	fields := map[string]any{
		"method":   e.Method,
		"endpoint": SanitizeEndpoint(e.Endpoint),
		"status":   e.Status,
	}
	if e.ErrorTag != "" {
		fields["error"] = e.ErrorTag
	}
	l.write(DataAccess, e.RequestID, fields)
}

// CodeExecutionEvent is one code_execution audit entry, written by
// LogCodeExecution. The tool dispatch surface does not emit these
// events; its tool calls produce data_access events only.
type CodeExecutionEvent struct {
	RequestID string
	Code      string // hashed, never logged verbatim
	Sandbox   string
	Status    string
	Duration  time.Duration
	ErrorTag  string
}

// LogCodeExecution appends a code_execution event if the execute flag is on.
func (l *Logger) LogCodeExecution(e CodeExecutionEvent) {
	if !l.executeOn {
		return
	}
	fields := map[string]any{
		"code_hash":   HashPrefix(e.Code),
		"sandbox":     e.Sandbox,
		"status":      e.Status,
		"duration_ms": e.Duration.Milliseconds(),
	}
	if e.ErrorTag != "" {
		fields["error"] = e.ErrorTag
	}
	l.write(CodeExecution, e.RequestID, fields)
}

// NewRequestID mints a correlation ID for grouping the audit events
// emitted on behalf of one logical tool call.
func NewRequestID() string {
	return uuid.New().String()
}

type requestIDKey struct{}

// ContextWithRequestID stamps a correlation ID onto ctx so every
// gateway round trip made on behalf of one tool call shares it.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation ID stamped by
// ContextWithRequestID, or "" when none is present.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Close flushes and closes the rotating file handler.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) write(t EventType, requestID string, fields map[string]any) {
	if requestID == "" {
		requestID = NewRequestID()
	}

	e := event{
		EventType: t,
		RequestID: requestID,
		Fields:    fields,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	line, err := json.Marshal(e)
	if err != nil {
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	l.stderr.Write(line)
	l.file.Write(line)
}

var numericSegment = regexp.MustCompile(`^\d+$`)

// SanitizeEndpoint replaces any path segment made entirely of digits
// with *** so audit events never reveal a specific record ID.
func SanitizeEndpoint(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg != "" && numericSegment.MatchString(seg) {
			segments[i] = "***"
		}
	}
	return strings.Join(segments, "/")
}

// HashPrefix returns the first 8 hex characters of SHA-256(s), used
// to fingerprint executed code without recording its content.
func HashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
