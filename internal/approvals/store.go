// Package approvals implements the durable, one-shot approval workflow that
// gates side-effecting tool calls behind an explicit human decision.
package approvals

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Status is the lifecycle state of an Approval.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAllow     Status = "allow"
	StatusDeny      Status = "deny"
	StatusExpired   Status = "expired"
	StatusConsumed  Status = "consumed"
)

// DefaultTimeout is the lifetime of a pending approval before it expires on
// next observation.
const DefaultTimeout = 5 * time.Minute

// Approval is a persisted record authorising exactly one future execution
// of a specific tool call for a specific session.
type Approval struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	ToolName      string         `json:"tool_name"`
	ToolArguments map[string]any `json:"tool_arguments"`
	ToolCallID    string         `json:"tool_call_id"`
	Summary       string         `json:"summary"`
	CreatedMS     int64          `json:"created_ms"`
	ExpiresMS     int64          `json:"expires_ms"`
	Status        Status         `json:"status"`
	ResolvedBy    string         `json:"resolved_by,omitempty"`
	ResolvedMS    int64          `json:"resolved_ms,omitempty"`
}

// Decision is the human's resolution of a pending approval.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Store is a persistent map of approvals keyed by id. Every mutation
// acquires the internal mutex and persists a whole-file JSON snapshot
// synchronously before returning, so a crash never observes a decision
// that isn't also on disk.
type Store struct {
	path string

	mu      sync.Mutex
	byID    map[string]*Approval
	nowFunc func() time.Time

	sweeper *cron.Cron
}

// NewStore loads path if it exists and is well-formed; a missing or
// malformed file resets to an empty store rather than failing.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:    path,
		byID:    make(map[string]*Approval),
		nowFunc: time.Now,
	}
	s.load()
	return s, nil
}

// StartExpirySweep starts a background cron schedule that transitions
// past-due pending approvals to expired, independent of Get/Pending being
// called. This complements the on-observation expiry those methods already
// perform — a pending approval the control plane never polls still expires
// on schedule rather than lingering until next observed. spec is a standard
// cron expression (e.g. "@every 1m"); the caller stops the schedule via
// Stop.
func (s *Store) StartExpirySweep(spec string) error {
	s.mu.Lock()
	if s.sweeper != nil {
		s.mu.Unlock()
		return fmt.Errorf("approvals: expiry sweep already running")
	}
	s.mu.Unlock()

	c := cron.New()
	if _, err := c.AddFunc(spec, s.sweepExpired); err != nil {
		return fmt.Errorf("approvals: schedule expiry sweep: %w", err)
	}

	s.mu.Lock()
	s.sweeper = c
	s.mu.Unlock()

	c.Start()
	return nil
}

// Stop halts the background expiry sweep, if running, and waits for any
// in-flight run to finish.
func (s *Store) Stop() {
	s.mu.Lock()
	c := s.sweeper
	s.sweeper = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Store) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	for _, a := range s.byID {
		if s.expireIfDue(a) {
			dirty = true
		}
	}
	if dirty {
		_ = s.persist()
	}
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var list []*Approval
	if err := json.Unmarshal(data, &list); err != nil {
		return
	}
	for _, a := range list {
		s.byID[a.ID] = a
	}
}

// persist must be called with s.mu held.
func (s *Store) persist() error {
	list := make([]*Approval, 0, len(s.byID))
	for _, a := range s.byID {
		list = append(list, a)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("approvals: marshal snapshot: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("approvals: create dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("approvals: write snapshot: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Create persists a new pending approval and returns it.
func (s *Store) Create(sessionID, toolName string, args map[string]any, toolCallID, summary string, timeout time.Duration) (*Approval, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := s.nowFunc()
	a := &Approval{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		ToolName:      toolName,
		ToolArguments: args,
		ToolCallID:    toolCallID,
		Summary:       summary,
		CreatedMS:     now.UnixMilli(),
		ExpiresMS:     now.Add(timeout).UnixMilli(),
		Status:        StatusPending,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
	if err := s.persist(); err != nil {
		delete(s.byID, a.ID)
		return nil, err
	}
	cp := *a
	return &cp, nil
}

// Get returns the approval with the given id, or nil if absent.
func (s *Store) Get(id string) *Approval {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil
	}
	if s.expireIfDue(a) {
		_ = s.persist()
	}
	cp := *a
	return &cp
}

// Pending returns every approval still pending (and not yet expired).
// Records observed to be pending-but-past-expiry are transitioned to
// expired as a side effect and persisted before being excluded.
func (s *Store) Pending() ([]*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirty := false
	out := make([]*Approval, 0)
	for _, a := range s.byID {
		if a.Status != StatusPending {
			continue
		}
		if s.expireIfDue(a) {
			dirty = true
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	if dirty {
		if err := s.persist(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expireIfDue transitions a to expired if it is pending and past its
// expiry, returning true if it did so. Must be called with s.mu held.
func (s *Store) expireIfDue(a *Approval) bool {
	if a.Status != StatusPending {
		return false
	}
	if s.nowFunc().UnixMilli() < a.ExpiresMS {
		return false
	}
	a.Status = StatusExpired
	return true
}

// Resolve applies a human decision to a pending approval. It fails (returns
// false, no change) if the approval is absent, not pending, or has expired
// as of this call; in the expiry case the record transitions to expired.
func (s *Store) Resolve(id string, decision Decision, resolvedBy string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if s.expireIfDue(a) {
		if err := s.persist(); err != nil {
			return false, err
		}
		return false, nil
	}
	if a.Status != StatusPending {
		return false, nil
	}

	switch decision {
	case DecisionAllow:
		a.Status = StatusAllow
	case DecisionDeny:
		a.Status = StatusDeny
	default:
		return false, fmt.Errorf("approvals: unknown decision %q", decision)
	}
	a.ResolvedBy = resolvedBy
	a.ResolvedMS = s.nowFunc().UnixMilli()

	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

// Consume transitions an allowed approval to consumed, succeeding only when
// the current status is allow. This is a strict compare-and-set: a second
// Consume call on the same id is a no-op that returns false, making every
// approval single-use.
func (s *Store) Consume(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.Status != StatusAllow {
		return false, nil
	}
	a.Status = StatusConsumed
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}
