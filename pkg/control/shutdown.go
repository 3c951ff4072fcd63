// Package control implements the signal plane: shutdown-request files
// written by the team lead and heartbeat files written by the worker, the
// two single-document file types that let an external process observe
// and influence a running bridge daemon.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fleetbridge/bridge/pkg/fsutil"
	"github.com/fleetbridge/bridge/pkg/sanitize"
	"github.com/fleetbridge/bridge/pkg/types"
)

// ShutdownSignal reads and clears teams/<team>/signals/<worker>.shutdown.
type ShutdownSignal struct {
	path string
}

// NewShutdownSignal returns a ShutdownSignal for team/worker rooted at
// base.
func NewShutdownSignal(base, team, worker string) (*ShutdownSignal, error) {
	safeTeam, err := sanitize.Name(team)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	safeWorker, err := sanitize.Name(worker)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	path := filepath.Join(base, "teams", safeTeam, "signals", safeWorker+".shutdown")
	if _, err := sanitize.WithinBase(base, path); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	return &ShutdownSignal{path: path}, nil
}

// Check reports whether a shutdown has been requested, returning the
// signal document if so.
func (s *ShutdownSignal) Check() (*types.ShutdownSignal, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("control: reading %q: %w", s.path, err)
	}
	var signal types.ShutdownSignal
	if err := json.Unmarshal(data, &signal); err != nil {
		return nil, false, fmt.Errorf("control: decoding %q: %w", s.path, err)
	}
	return &signal, true, nil
}

// Delete removes the shutdown signal file after it has been acked. It is
// not an error for the file to already be gone.
func (s *ShutdownSignal) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: removing %q: %w", s.path, err)
	}
	return nil
}

// Write is used by tests and lead-side fixtures to simulate an incoming
// shutdown request.
func (s *ShutdownSignal) Write(signal types.ShutdownSignal) error {
	data, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return fmt.Errorf("control: marshaling shutdown signal: %w", err)
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(s.path, data, fsutil.FilePerm)
}
