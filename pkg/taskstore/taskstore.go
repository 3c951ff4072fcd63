// Package taskstore is the per-team directory of task descriptors and
// failure sidecars: atomic reads and updates, the sorted-listing rule,
// blocker resolution, and the cooperative claim protocol a worker uses to
// pick its next task.
package taskstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/fleetbridge/bridge/pkg/fsutil"
	"github.com/fleetbridge/bridge/pkg/sanitize"
	"github.com/fleetbridge/bridge/pkg/types"
)

// defaultClaimSettle is the delay between writing a claim and re-reading
// it to confirm nobody else has overwritten it. It is a field on Store,
// not a constant, so tests can drive it down.
const defaultClaimSettle = 50 * time.Millisecond

// Store manages the task descriptors and failure sidecars for one team,
// rooted at <base>/tasks/<team>.
type Store struct {
	dir         string
	claimSettle time.Duration
}

// New returns a Store for team rooted under base (the per-user state
// root). It fails if team does not sanitize to a safe name or if the
// resulting directory would escape base.
func New(base, team string) (*Store, error) {
	safeTeam, err := sanitize.Name(team)
	if err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}
	dir := filepath.Join(base, "tasks", safeTeam)
	if _, err := sanitize.WithinBase(base, dir); err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("taskstore: %w", err)
	}
	return &Store{dir: dir, claimSettle: defaultClaimSettle}, nil
}

func (s *Store) taskPath(id string) (string, error) {
	if err := sanitize.TaskID(id); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, id)
	if _, err := sanitize.WithinBase(s.dir, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) failurePath(id string) (string, error) {
	path, err := s.taskPath(id)
	if err != nil {
		return "", err
	}
	return path + ".failure", nil
}

// Read returns the task with the given id. A missing or structurally
// invalid file is reported as (nil, false, nil) — it is absent from the
// store's point of view, not an error.
func (s *Store) Read(id string) (*types.Task, bool, error) {
	path, err := s.taskPath(id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("taskstore: reading %q: %w", path, err)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, false, nil
	}
	return &task, true, nil
}

// Write atomically persists task, unconditionally overwriting whatever
// is on disk.
func (s *Store) Write(task *types.Task) error {
	path, err := s.taskPath(task.ID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("taskstore: marshaling task %q: %w", task.ID, err)
	}
	data = append(data, '\n')
	return fsutil.WriteFileAtomic(path, data, fsutil.FilePerm)
}

// Update reads the task, applies patch to the in-memory copy, and writes
// it back atomically, preserving any field patch does not touch. It is a
// no-op error if the task does not exist.
func (s *Store) Update(id string, patch func(*types.Task)) error {
	task, ok, err := s.Read(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("taskstore: task %q not found", id)
	}
	patch(task)
	return s.Write(task)
}

// List returns task ids sorted numerically when every id parses as an
// integer, and lexicographically otherwise.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("taskstore: listing %q: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".failure" {
			continue
		}
		ids = append(ids, name)
	}

	allNumeric := true
	nums := make(map[string]int64, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			allNumeric = false
			break
		}
		nums[id] = n
	}

	if allNumeric {
		sort.Slice(ids, func(i, j int) bool { return nums[ids[i]] < nums[ids[j]] })
	} else {
		sort.Strings(ids)
	}
	return ids, nil
}

// BlockersResolved reports whether every task id in blockedBy exists and
// is completed.
func (s *Store) BlockersResolved(blockedBy []string) (bool, error) {
	for _, blockerID := range blockedBy {
		blocker, ok, err := s.Read(blockerID)
		if err != nil {
			return false, err
		}
		if !ok || blocker.Status != types.TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}

// ReadFailure returns the failure sidecar for id, if any.
func (s *Store) ReadFailure(id string) (*types.FailureSidecar, bool, error) {
	path, err := s.failurePath(id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("taskstore: reading %q: %w", path, err)
	}
	var sidecar types.FailureSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return nil, false, nil
	}
	return &sidecar, true, nil
}

// WriteFailure creates or increments the failure sidecar for id with the
// given error text.
func (s *Store) WriteFailure(id, errText string) (*types.FailureSidecar, error) {
	sidecar, ok, err := s.ReadFailure(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		sidecar = &types.FailureSidecar{TaskID: id}
	}
	sidecar.LastError = errText
	sidecar.RetryCount++
	sidecar.LastFailure = time.Now()

	path, err := s.failurePath(id)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("taskstore: marshaling failure sidecar %q: %w", id, err)
	}
	data = append(data, '\n')
	if err := fsutil.WriteFileAtomic(path, data, fsutil.FilePerm); err != nil {
		return nil, err
	}
	return sidecar, nil
}

// Exhausted reports whether id's failure sidecar has exceeded maxRetries.
// RetryCount is already incremented for the failure that just happened
// (WriteFailure runs before Exhausted in the caller's failure path), so a
// strict greater-than is required: with maxRetries=2, RetryCount reaches
// 2 after the second failure and the task must still cycle back to
// pending for a third attempt, only failing permanently once a third
// failure pushes RetryCount to 3.
func (s *Store) Exhausted(id string, maxRetries int) (bool, error) {
	sidecar, ok, err := s.ReadFailure(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return sidecar.RetryCount > maxRetries, nil
}

// FindNext implements the cooperative claim protocol of spec §4.C: it
// walks the sorted task ids, skipping anything not pending, not owned by
// worker, or with unresolved blockers, and for each remaining candidate
// in turn writes a claim, waits claimSettle, and re-reads to confirm no
// other writer raced it. The first candidate that survives the re-read is
// returned; all others are skipped, not retried.
func (s *Store) FindNext(worker string, pid int) (*types.Task, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		task, ok, err := s.Read(id)
		if err != nil || !ok {
			continue
		}
		if task.Status != types.TaskPending || task.Owner != worker {
			continue
		}
		resolved, err := s.BlockersResolved(task.BlockedBy)
		if err != nil {
			continue
		}
		if !resolved {
			continue
		}

		claimed, err := s.tryClaim(id, worker, pid)
		if err != nil {
			continue
		}
		if claimed != nil {
			return claimed, nil
		}
	}
	return nil, nil
}

// tryClaim performs the four-step claim dance for a single candidate
// task and returns the confirmed task, or nil if the claim was lost to a
// concurrent writer.
func (s *Store) tryClaim(id, worker string, pid int) (*types.Task, error) {
	now := time.Now().UnixMilli()
	if err := s.Update(id, func(t *types.Task) {
		t.ClaimedBy = worker
		t.ClaimedAt = now
		t.ClaimPID = pid
	}); err != nil {
		return nil, err
	}

	time.Sleep(s.claimSettle)

	task, ok, err := s.Read(id)
	if err != nil || !ok {
		return nil, err
	}
	if task.Status != types.TaskPending {
		return nil, nil
	}
	if task.ClaimedBy != worker || task.ClaimPID != pid {
		return nil, nil
	}
	return task, nil
}
