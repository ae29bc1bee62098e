package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_RedactsSensitiveKeysRecursively(t *testing.T) {
	sink, err := NewSink(filepath.Join(t.TempDir(), "audit.ndjson"))
	require.NoError(t, err)
	defer sink.Close()

	payload := map[string]any{
		"tool": "exec.run",
		"args": map[string]any{
			"command": "ls",
			"Secret":  "shh",
			"nested": map[string]any{
				"api_key": "xyz",
				"safe":    "value",
			},
		},
	}
	require.NoError(t, sink.Record(context.Background(), EventToolInvoked, payload))

	recs, err := sink.Recent(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	args := recs[0].Payload["args"].(map[string]any)
	assert.Equal(t, redactedLiteral, args["Secret"])
	assert.Equal(t, "ls", args["command"])

	nested := args["nested"].(map[string]any)
	assert.Equal(t, redactedLiteral, nested["api_key"])
	assert.Equal(t, "value", nested["safe"])
}

func TestRecent_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	sink, err := NewSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Record(context.Background(), EventChatReply, map[string]any{"session_id": "s1"}))
	require.NoError(t, sink.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := NewSink(path)
	require.NoError(t, err)
	defer reopened.Close()

	recs, err := reopened.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, EventChatReply, recs[0].Event)
}
