package approvals

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle_AllowThenConsumeIsSingleUse(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	a, err := s.Create("sess-1", "exec.run", map[string]any{"command": "ls"}, "c1", "run ls", 0)
	require.NoError(t, err)
	require.Equal(t, StatusPending, a.Status)

	ok, err := s.Resolve(a.ID, DecisionAllow, "console")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Consume(a.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Consume(a.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second consume must be a no-op")
}

func TestResolve_NonPendingFails(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	a, err := s.Create("sess-1", "exec.run", nil, "c1", "", 0)
	require.NoError(t, err)

	ok, err := s.Resolve(a.ID, DecisionDeny, "console")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Resolve(a.ID, DecisionAllow, "console")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_AfterExpiryTransitionsAndFails(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	start := time.Now()
	s.nowFunc = func() time.Time { return start }

	a, err := s.Create("sess-1", "exec.run", nil, "c1", "", time.Minute)
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }

	ok, err := s.Resolve(a.ID, DecisionAllow, "console")
	require.NoError(t, err)
	assert.False(t, ok)

	got := s.Get(a.ID)
	require.NotNil(t, got)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestSweepExpired_TransitionsPastDueEvenWithoutObservation(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	start := time.Now()
	s.nowFunc = func() time.Time { return start }
	a, err := s.Create("sess-1", "exec.run", nil, "c1", "", time.Millisecond)
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return start.Add(time.Second) }
	s.sweepExpired()
	defer s.Stop()

	s.mu.Lock()
	got := *s.byID[a.ID]
	s.mu.Unlock()
	assert.Equal(t, StatusExpired, got.Status)
}

func TestStartExpirySweep_RejectsDoubleStart(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	require.NoError(t, s.StartExpirySweep("@every 1h"))
	defer s.Stop()

	err = s.StartExpirySweep("@every 1h")
	assert.Error(t, err)
}

func TestPending_ExcludesExpiredAndTransitionsThem(t *testing.T) {
	s, err := NewStore(filepath.Join(t.TempDir(), "approvals.json"))
	require.NoError(t, err)

	start := time.Now()
	s.nowFunc = func() time.Time { return start }
	_, err = s.Create("sess-1", "exec.run", nil, "c1", "", time.Minute)
	require.NoError(t, err)

	s.nowFunc = func() time.Time { return start.Add(2 * time.Minute) }
	pending, err := s.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
