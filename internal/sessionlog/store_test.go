package sessionlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadAll_RoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	id := store.NewSession()
	require.NoError(t, store.Append(id, Message{Role: RoleUser, Content: "hello"}))
	require.NoError(t, store.Append(id, Message{Role: RoleAssistant, Content: "hi"}))

	msgs, err := store.ReadAll(id)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].Content)
}

func TestReadAll_UnknownSession(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	msgs, err := store.ReadAll("does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestReadAll_SkipsTruncatedTrailingRecord(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	id := store.NewSession()
	require.NoError(t, store.Append(id, Message{Role: RoleUser, Content: "ok"}))

	// Simulate a crash mid-write: append a partial JSON line with no
	// trailing newline.
	f, err := os.OpenFile(filepath.Join(dir, id+".ndjson"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"ts":1,"role":"assistant","content":"partia`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := store.ReadAll(id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ok", msgs[0].Content)
}
