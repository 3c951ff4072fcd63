package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetbridge/bridge/pkg/fsutil"
	"github.com/fleetbridge/bridge/pkg/sanitize"
	"github.com/fleetbridge/bridge/pkg/types"
)

// Heartbeat writes and deletes the liveness document for one worker,
// keyed by (working directory, team, worker) as spec'd: the file lives
// under the worker's own working directory so an observer watching that
// checkout sees the worker's activity without needing the shared state
// root.
type Heartbeat struct {
	path     string
	worker   string
	team     string
	provider string
	pid      int
}

// NewHeartbeat returns a Heartbeat writer for worker in team, running
// provider, rooted at workingDir/.omc/heartbeats/<team>-<worker>.
func NewHeartbeat(workingDir, team, worker, provider string) (*Heartbeat, error) {
	safeTeam, err := sanitize.Name(team)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	safeWorker, err := sanitize.Name(worker)
	if err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	dir := filepath.Join(workingDir, ".omc", "heartbeats")
	path := filepath.Join(dir, safeTeam+"-"+safeWorker)
	if _, err := sanitize.WithinBase(workingDir, path); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	return &Heartbeat{path: path, worker: worker, team: team, provider: provider, pid: os.Getpid()}, nil
}

// Write persists the current heartbeat with the given status and
// optional current task id.
func (h *Heartbeat) Write(status types.LifecycleStatus, consecutiveErrors int, currentTaskID string) error {
	hb := types.Heartbeat{
		Worker:            h.worker,
		Team:              h.team,
		Provider:          h.provider,
		PID:               h.pid,
		LastPoll:          time.Now(),
		CurrentTaskID:     currentTaskID,
		ConsecutiveErrors: consecutiveErrors,
		Status:            status,
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return fmt.Errorf("control: marshaling heartbeat: %w", err)
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(h.path, data, fsutil.FilePerm)
}

// Delete removes the heartbeat file on shutdown.
func (h *Heartbeat) Delete() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("control: removing %q: %w", h.path, err)
	}
	return nil
}

// Read returns the current heartbeat document, for tests and external
// observers.
func (h *Heartbeat) Read() (*types.Heartbeat, bool, error) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("control: reading %q: %w", h.path, err)
	}
	var hb types.Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return nil, false, fmt.Errorf("control: decoding %q: %w", h.path, err)
	}
	return &hb, true, nil
}
