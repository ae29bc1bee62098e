// Package audit provides an append-only, redacted record of named events,
// read from the tail.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Event names the core emits.
const (
	EventToolInvoked    = "tool.invoked"
	EventToolCompleted  = "tool.completed"
	EventToolDenied     = "tool.denied"
	EventApprovalCreated = "approval.created"
	EventApprovalResolved = "approval.resolved"
	EventChatReply      = "chat.reply"
	EventSessionCreated = "session.created"
)

// redactionTerms are matched case-insensitively against a payload's map
// keys, at any nesting depth.
var redactionTerms = []string{
	"password", "secret", "token", "api_key", "apikey", "credential", "auth", "authorization",
}

const maxRedactDepth = 10
const redactedLiteral = "**REDACTED**"

// Record is one decoded line of the audit log.
type Record struct {
	TimestampMS int64          `json:"ts"`
	Event       string         `json:"event"`
	Payload     map[string]any `json:"payload"`
	TraceID     string         `json:"trace_id,omitempty"`
	SpanID      string         `json:"span_id,omitempty"`
}

// Sink appends redacted event records to a newline-delimited file.
type Sink struct {
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewSink opens (creating if needed) the audit log at path.
func NewSink(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Sink{path: path, f: f}, nil
}

// Record redacts payload recursively and appends one line to the log.
// trace/span ids, when present on ctx, are recorded alongside the event
// for correlation with the rest of the daemon's structured logs.
func (s *Sink) Record(ctx context.Context, event string, payload map[string]any) error {
	rec := Record{
		TimestampMS: time.Now().UnixMilli(),
		Event:       event,
		Payload:     redact(payload, 0),
	}
	if span := trace.SpanContextFromContext(ctx); span.IsValid() {
		rec.TraceID = span.TraceID().String()
		rec.SpanID = span.SpanID().String()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(line)
	return err
}

// Recent returns the last n decoded records, skipping malformed lines.
func (s *Sink) Recent(n int) ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var all []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		all = append(all, rec)
	}

	if n <= 0 || n >= len(all) {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// redact walks v recursively, replacing the value of any map key whose
// lowercased name contains a redaction term with the literal
// "**REDACTED**". depth bounds recursion to defeat adversarial nesting;
// past maxRedactDepth, nested structures are left as-is rather than
// walked further.
func redact(v map[string]any, depth int) map[string]any {
	if v == nil {
		return nil
	}
	out := make(map[string]any, len(v))
	for k, val := range v {
		if depth < maxRedactDepth && isSensitiveKey(k) {
			out[k] = redactedLiteral
			continue
		}
		out[k] = redactValue(val, depth+1)
	}
	return out
}

func redactValue(v any, depth int) any {
	if depth > maxRedactDepth {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		return redact(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item, depth+1)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, term := range redactionTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
