package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetbridge/bridge/pkg/types"
)

func TestOutboxAppendAndRotate(t *testing.T) {
	base := t.TempDir()
	ob, err := NewOutbox(base, "team-a", "worker-1")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, ob.Append(types.OutboxMessage{
			Type:    types.OutboxIdle,
			Message: fmt.Sprintf("idle-%d", i),
		}))
	}

	require.NoError(t, ob.Rotate(6))

	data, err := os.ReadFile(filepath.Join(base, "teams", "team-a", "outbox", "worker-1"))
	require.NoError(t, err)
	lines := nonEmptyLines(data)
	assert.Len(t, lines, 5)
	assert.Contains(t, string(lines[len(lines)-1]), "idle-9")
}

func TestOutboxRotateBelowThresholdIsNoop(t *testing.T) {
	base := t.TempDir()
	ob, err := NewOutbox(base, "team-a", "worker-1")
	require.NoError(t, err)
	require.NoError(t, ob.Append(types.OutboxMessage{Type: types.OutboxIdle}))

	require.NoError(t, ob.Rotate(500))

	data, err := os.ReadFile(filepath.Join(base, "teams", "team-a", "outbox", "worker-1"))
	require.NoError(t, err)
	assert.Len(t, nonEmptyLines(data), 1)
}

func writeInboxRaw(t *testing.T, base, team, worker, content string) {
	t.Helper()
	path := filepath.Join(base, "teams", team, "inbox", worker)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestInboxReadNewDeliversEachMessageOnce(t *testing.T) {
	base := t.TempDir()
	writeInboxRaw(t, base, "team-a", "worker-1",
		`{"type":"instruction","content":"do x","timestamp":"2026-01-01T00:00:00Z"}`+"\n"+
			`{"type":"note","content":"fyi","timestamp":"2026-01-01T00:00:01Z"}`+"\n")

	ib, err := NewInbox(base, "team-a", "worker-1")
	require.NoError(t, err)

	msgs, err := ib.ReadNew()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "do x", msgs[0].Content)

	// Second read with no new data returns nothing.
	msgs, err = ib.ReadNew()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInboxReadNewStopsAtMalformedLine(t *testing.T) {
	base := t.TempDir()
	good := `{"type":"note","content":"fine","timestamp":"2026-01-01T00:00:00Z"}`
	bad := `not json`
	writeInboxRaw(t, base, "team-a", "worker-1", good+"\n"+bad+"\n")

	ib, err := NewInbox(base, "team-a", "worker-1")
	require.NoError(t, err)

	msgs, err := ib.ReadNew()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fine", msgs[0].Content)

	cursor := ib.readCursor()
	assert.Equal(t, int64(len(good)+1), cursor)

	// A second read re-observes the bad line and still returns nothing: the
	// cursor has not moved past it.
	msgs, err = ib.ReadNew()
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestInboxReadNewResetsCursorOnTruncation(t *testing.T) {
	base := t.TempDir()
	writeInboxRaw(t, base, "team-a", "worker-1",
		`{"type":"note","content":"one","timestamp":"2026-01-01T00:00:00Z"}`+"\n")

	ib, err := NewInbox(base, "team-a", "worker-1")
	require.NoError(t, err)
	_, err = ib.ReadNew()
	require.NoError(t, err)
	assert.NotZero(t, ib.readCursor())

	// Truncate the file to something shorter than the cursor.
	writeInboxRaw(t, base, "team-a", "worker-1", `{"type":"note"`)
	msgs, err := ib.ReadNew()
	require.NoError(t, err)
	assert.Empty(t, msgs) // malformed (no closing brace/newline), cursor resets to 0 but nothing decodes
}

func TestInboxRotateResetsCursor(t *testing.T) {
	base := t.TempDir()
	var sb string
	for i := 0; i < 100; i++ {
		sb += fmt.Sprintf(`{"type":"note","content":"msg-%d","timestamp":"2026-01-01T00:00:00Z"}`+"\n", i)
	}
	writeInboxRaw(t, base, "team-a", "worker-1", sb)

	ib, err := NewInbox(base, "team-a", "worker-1")
	require.NoError(t, err)
	_, err = ib.ReadNew()
	require.NoError(t, err)
	require.NotZero(t, ib.readCursor())

	require.NoError(t, ib.Rotate(int64(len(sb)/2)))
	assert.Zero(t, ib.readCursor())
}
