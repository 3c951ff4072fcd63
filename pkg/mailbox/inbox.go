package mailbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/fleetbridge/bridge/pkg/fsutil"
	"github.com/fleetbridge/bridge/pkg/log"
	"github.com/fleetbridge/bridge/pkg/types"
)

// maxReadWindow bounds a single inbox read to 10MiB, to prevent a
// pathologically large inbox from exhausting memory.
const maxReadWindow = 10 * 1024 * 1024

// Inbox reads the team lead's messages for one worker, tracking a
// persisted byte-offset cursor so each message is delivered exactly once.
type Inbox struct {
	path       string
	cursorPath string
}

// NewInbox returns an Inbox for teams/<team>/inbox/<worker> rooted at
// base, with its cursor stored alongside at <worker>.offset.
func NewInbox(base, team, worker string) (*Inbox, error) {
	path, err := logPath(base, team, "inbox", worker)
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	return &Inbox{path: path, cursorPath: path + ".offset"}, nil
}

// readCursor returns the persisted byte offset, or zero if the cursor
// file is absent or does not parse as an integer.
func (i *Inbox) readCursor() int64 {
	data, err := os.ReadFile(i.cursorPath)
	if err != nil {
		return 0
	}
	n, err := strconv.ParseInt(string(bytes.TrimSpace(data)), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func (i *Inbox) writeCursor(offset int64) error {
	return fsutil.WriteFileAtomic(i.cursorPath, []byte(strconv.FormatInt(offset, 10)), fsutil.FilePerm)
}

// ReadNew implements the seven-step inbox read contract: truncation-safe
// cursor reset, a 10MiB read window, and a shadow offset that only
// advances past successfully decoded, newline-terminated records. A
// malformed line halts advancement at that line's start so the next call
// re-observes it.
func (i *Inbox) ReadNew() ([]types.InboxMessage, error) {
	cursor := i.readCursor()

	info, err := os.Stat(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("mailbox: stat %q: %w", i.path, err)
	}

	size := info.Size()
	if size < cursor {
		cursor = 0
	}
	if size <= cursor {
		return nil, nil
	}

	f, err := os.Open(i.path)
	if err != nil {
		return nil, fmt.Errorf("mailbox: opening %q: %w", i.path, err)
	}
	defer f.Close()

	if _, err := f.Seek(cursor, 0); err != nil {
		return nil, fmt.Errorf("mailbox: seeking %q: %w", i.path, err)
	}

	window := size - cursor
	truncatedWindow := window > maxReadWindow
	if truncatedWindow {
		window = maxReadWindow
	}

	buf := make([]byte, window)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("mailbox: reading %q: %w", i.path, err)
	}
	buf = buf[:n]
	if truncatedWindow {
		log.Logger.Warn().Str("path", i.path).Msg("inbox read window truncated at 10MiB; more messages pending")
	}

	var messages []types.InboxMessage
	shadowOffset := cursor
	start := 0
	for {
		idx := bytes.IndexByte(buf[start:], '\n')
		if idx < 0 {
			break
		}
		line := buf[start : start+idx]
		lineAndNewlineLen := int64(idx + 1)

		if len(bytes.TrimSpace(line)) == 0 {
			shadowOffset += lineAndNewlineLen
			start += idx + 1
			continue
		}

		var msg types.InboxMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			// Malformed line: stop here, do not advance past it.
			break
		}
		messages = append(messages, msg)
		shadowOffset += lineAndNewlineLen
		start += idx + 1
	}

	if err := i.writeCursor(shadowOffset); err != nil {
		return nil, err
	}
	return messages, nil
}

// Rotate retains the most recent half (by bytes) of the inbox once it
// exceeds byteBudget, resetting the cursor to zero — matching the
// truncation-safe case in ReadNew. This is invoked externally, not by the
// bridge loop.
func (i *Inbox) Rotate(byteBudget int64) error {
	data, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("mailbox: reading %q: %w", i.path, err)
	}
	if int64(len(data)) <= byteBudget {
		return nil
	}

	kept := data[len(data)/2:]
	if idx := bytes.IndexByte(kept, '\n'); idx >= 0 {
		kept = kept[idx+1:]
	}
	if err := fsutil.WriteFileAtomic(i.path, kept, fsutil.FilePerm); err != nil {
		return err
	}
	return i.writeCursor(0)
}
