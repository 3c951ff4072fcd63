// Package mailbox implements the inbox/outbox log format: newline-
// delimited message records, with an append-only writer for the
// worker-owned outbox and a cursor-tracked, truncation-safe reader for
// the lead-owned inbox.
package mailbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetbridge/bridge/pkg/fsutil"
	"github.com/fleetbridge/bridge/pkg/sanitize"
	"github.com/fleetbridge/bridge/pkg/types"
)

// Outbox appends structured progress messages for one worker.
type Outbox struct {
	path string
}

// NewOutbox returns an Outbox for teams/<team>/outbox/<worker> rooted at
// base.
func NewOutbox(base, team, worker string) (*Outbox, error) {
	path, err := logPath(base, team, "outbox", worker)
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	return &Outbox{path: path}, nil
}

// Append writes one line containing msg, stamping Timestamp if it is
// zero.
func (o *Outbox) Append(msg types.OutboxMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailbox: marshaling outbox message: %w", err)
	}
	return fsutil.AppendLine(o.path, data, fsutil.FilePerm)
}

// Rotate keeps only the most recent half of the outbox's non-empty lines
// once it exceeds maxLines. Rotation failure is non-fatal to the caller:
// it returns the error, but the bridge loop treats it as best-effort.
func (o *Outbox) Rotate(maxLines int) error {
	data, err := os.ReadFile(o.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("mailbox: reading outbox %q: %w", o.path, err)
	}

	lines := nonEmptyLines(data)
	if len(lines) <= maxLines {
		return nil
	}

	keep := lines[len(lines)/2:]
	var buf bytes.Buffer
	for _, line := range keep {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return fsutil.WriteFileAtomic(o.path, buf.Bytes(), fsutil.FilePerm)
}

func nonEmptyLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

func logPath(base, team, kind, worker string) (string, error) {
	safeTeam, err := sanitize.Name(team)
	if err != nil {
		return "", err
	}
	safeWorker, err := sanitize.Name(worker)
	if err != nil {
		return "", err
	}
	path := filepath.Join(base, "teams", safeTeam, kind, safeWorker)
	if _, err := sanitize.WithinBase(base, path); err != nil {
		return "", err
	}
	return path, nil
}
