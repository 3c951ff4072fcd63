package bridge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleetbridge/bridge/pkg/metrics"
	"github.com/fleetbridge/bridge/pkg/prompt"
	"github.com/fleetbridge/bridge/pkg/provider"
	"github.com/fleetbridge/bridge/pkg/types"
)

// runCycle executes one iteration of the nine-step bridge loop; the
// numbered comments below mark the steps. It returns errShutdown once the shutdown sequence has run
// to completion, so the caller can stop without treating it as a
// transient failure.
func (b *Bridge) runCycle(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CycleDuration)
		metrics.PollCyclesTotal.Inc()
	}()

	// 1. Shutdown check.
	if signal, signaled, err := b.shutdown.Check(); err != nil {
		return fmt.Errorf("checking shutdown signal: %w", err)
	} else if signaled {
		if err := b.runShutdownSequence("signal file observed", signal.RequestID); err != nil {
			return err
		}
		return errShutdown
	}

	// 2. Quarantine check.
	if b.errorCount() >= b.cfg.MaxConsecutiveErrors {
		return b.stayQuarantined()
	}

	// 3. Polling heartbeat.
	if err := b.heart.Write(types.LifecyclePolling, b.errorCount(), ""); err != nil {
		b.logger.Warn().Err(err).Msg("writing polling heartbeat")
	}

	// 4. Read new inbox messages.
	messages, err := b.inbox.ReadNew()
	if err != nil {
		b.logger.Warn().Err(err).Msg("reading inbox")
	}

	// 5. Ask the task store for the next claimable task.
	task, err := b.tasks.FindNext(b.cfg.WorkerName, pid())
	if err != nil {
		return fmt.Errorf("finding next task: %w", err)
	}

	if task != nil {
		metrics.TasksClaimedTotal.Inc()
		if err := b.runTask(ctx, task, messages); err != nil {
			return err
		}
	} else {
		// 7. No task: one-shot idle notice.
		b.mu.Lock()
		notified := b.idleNotified
		b.idleNotified = true
		b.mu.Unlock()
		if !notified {
			if err := b.outbox.Append(types.OutboxMessage{Type: types.OutboxIdle, Message: "no claimable task"}); err != nil {
				b.logger.Warn().Err(err).Msg("appending idle outbox entry")
			}
		}
	}

	// 8. Rotate the outbox if it has grown past budget.
	if err := b.outbox.Rotate(b.cfg.OutboxMaxLines); err != nil {
		b.logger.Warn().Err(err).Msg("rotating outbox")
	}

	// 9. Sleep the poll interval.
	time.Sleep(b.cfg.PollInterval())
	return nil
}

// runTask executes step 6: mark in_progress, re-check shutdown, build and
// persist the prompt, invoke the CLI supervisor, and record the outcome.
func (b *Bridge) runTask(ctx context.Context, task *types.Task, messages []types.InboxMessage) error {
	b.mu.Lock()
	b.idleNotified = false
	b.mu.Unlock()

	if err := b.tasks.Update(task.ID, func(t *types.Task) { t.Status = types.TaskInProgress }); err != nil {
		return fmt.Errorf("marking task %s in_progress: %w", task.ID, err)
	}

	if err := b.heart.Write(types.LifecycleExecuting, b.errorCount(), task.ID); err != nil {
		b.logger.Warn().Err(err).Msg("writing executing heartbeat")
	}

	// Narrow race-window re-check: a shutdown may have arrived between
	// claiming the task and spawning the CLI.
	if signal, signaled, err := b.shutdown.Check(); err != nil {
		b.logger.Warn().Err(err).Msg("re-checking shutdown before spawn")
	} else if signaled {
		if err := b.tasks.Update(task.ID, func(t *types.Task) { t.Status = types.TaskPending }); err != nil {
			b.logger.Error().Err(err).Msg("reverting task to pending during shutdown abort")
		}
		if err := b.runShutdownSequence("signal observed before CLI spawn", signal.RequestID); err != nil {
			return err
		}
		return errShutdown
	}

	// Post-execution heartbeat, so an observer sees the transition out of
	// executing without waiting for the next cycle.
	defer func() {
		status := types.LifecyclePolling
		if b.errorCount() >= b.cfg.MaxConsecutiveErrors {
			status = types.LifecycleQuarantined
		}
		if err := b.heart.Write(status, b.errorCount(), ""); err != nil {
			b.logger.Warn().Err(err).Msg("writing post-execution heartbeat")
		}
	}()

	blob := prompt.Build(*task, messages, b.cfg.WorkingDirectory)

	stamp := time.Now().UnixMilli()
	stem := fmt.Sprintf("team-%s-task-%s-%d", b.cfg.TeamName, task.ID, stamp)
	if err := b.auditPrompt(stem, blob); err != nil {
		b.logger.Warn().Err(err).Msg("persisting prompt audit copy")
	}
	outputPath := filepath.Join(b.outputsDir, stem)

	handle, resultCh, err := provider.Spawn(ctx, provider.Request{
		Provider:         types.Provider(b.cfg.Provider),
		Prompt:           blob,
		Model:            b.cfg.Model,
		WorkingDirectory: b.cfg.WorkingDirectory,
		Timeout:          b.cfg.TaskTimeout(),
	})
	if err != nil {
		return b.handleExecutionFailure(task, err)
	}

	b.mu.Lock()
	b.currentHandle = handle
	b.mu.Unlock()

	cliTimer := metrics.NewTimer()
	result := <-resultCh

	b.mu.Lock()
	b.currentHandle = nil
	b.mu.Unlock()

	outcome := "success"
	if result.Err != nil {
		outcome = "failure"
	}
	cliTimer.ObserveDurationVec(metrics.CLIInvocationDuration, b.cfg.Provider, outcome)

	if result.Err != nil {
		return b.handleExecutionFailure(task, result.Err)
	}
	return b.handleExecutionSuccess(task, result.Response, outputPath)
}

func (b *Bridge) auditPrompt(stem, blob string) error {
	path := filepath.Join(b.promptsDir, stem)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(blob), 0o600)
}

// handleExecutionSuccess implements the success branch of step 6.
func (b *Bridge) handleExecutionSuccess(task *types.Task, response, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o700); err != nil {
		b.logger.Warn().Err(err).Msg("creating outputs directory")
	} else if err := os.WriteFile(outputPath, []byte(response), 0o600); err != nil {
		b.logger.Warn().Err(err).Msg("writing output file")
	}

	if err := b.tasks.Update(task.ID, func(t *types.Task) { t.Status = types.TaskCompleted }); err != nil {
		return fmt.Errorf("marking task %s completed: %w", task.ID, err)
	}
	b.resetErrors()

	summary := response
	if len(summary) > 500 {
		summary = summary[:500]
	}
	if err := b.outbox.Append(types.OutboxMessage{
		Type:    types.OutboxTaskComplete,
		TaskID:  task.ID,
		Summary: summary,
	}); err != nil {
		b.logger.Warn().Err(err).Msg("appending task_complete outbox entry")
	}
	metrics.TasksCompletedTotal.WithLabelValues("success").Inc()
	return nil
}

// handleExecutionFailure implements the failure branch of step 6: bump
// the error counter, write the sidecar, and either permanently fail the
// task (retries exhausted) or revert it to pending for another attempt.
func (b *Bridge) handleExecutionFailure(task *types.Task, execErr error) error {
	b.bumpError()
	metrics.TaskFailuresTotal.Inc()

	sidecar, err := b.tasks.WriteFailure(task.ID, execErr.Error())
	if err != nil {
		return fmt.Errorf("writing failure sidecar for task %s: %w", task.ID, err)
	}

	exhausted, err := b.tasks.Exhausted(task.ID, b.cfg.MaxRetries)
	if err != nil {
		return fmt.Errorf("checking retry exhaustion for task %s: %w", task.ID, err)
	}

	if exhausted {
		if err := b.tasks.Update(task.ID, func(t *types.Task) {
			t.Status = types.TaskCompleted
			if t.Metadata == nil {
				t.Metadata = map[string]any{}
			}
			t.Metadata["error"] = sidecar.LastError
			t.Metadata["permanentlyFailed"] = true
			t.Metadata["failedAttempts"] = sidecar.RetryCount
		}); err != nil {
			return fmt.Errorf("marking task %s permanently failed: %w", task.ID, err)
		}
		metrics.TasksCompletedTotal.WithLabelValues("permanent_failure").Inc()
		if err := b.outbox.Append(types.OutboxMessage{
			Type:    types.OutboxError,
			TaskID:  task.ID,
			Message: fmt.Sprintf("task %s permanently failed after %d attempts: %s", task.ID, sidecar.RetryCount, sidecar.LastError),
		}); err != nil {
			b.logger.Warn().Err(err).Msg("appending permanent-failure outbox entry")
		}
		return nil
	}

	if err := b.tasks.Update(task.ID, func(t *types.Task) { t.Status = types.TaskPending }); err != nil {
		return fmt.Errorf("reverting task %s to pending: %w", task.ID, err)
	}
	if err := b.outbox.Append(types.OutboxMessage{
		Type:    types.OutboxTaskFailed,
		TaskID:  task.ID,
		Error:   sidecar.LastError,
		Attempt: sidecar.RetryCount,
	}); err != nil {
		b.logger.Warn().Err(err).Msg("appending task_failed outbox entry")
	}
	return nil
}

// stayQuarantined implements step 2: emit the one-shot quarantine notice,
// write a quarantined heartbeat, and sleep three poll intervals. The
// daemon never self-exits from this state.
func (b *Bridge) stayQuarantined() error {
	b.mu.Lock()
	notified := b.quarantineNotified
	b.quarantineNotified = true
	b.mu.Unlock()

	if !notified {
		metrics.QuarantineEntriesTotal.Inc()
		msg := fmt.Sprintf("Self-quarantined after %d consecutive failures", b.cfg.MaxConsecutiveErrors)
		if err := b.outbox.Append(types.OutboxMessage{Type: types.OutboxError, Message: msg}); err != nil {
			b.logger.Warn().Err(err).Msg("appending quarantine outbox entry")
		}
	}

	if err := b.heart.Write(types.LifecycleQuarantined, b.errorCount(), ""); err != nil {
		b.logger.Warn().Err(err).Msg("writing quarantined heartbeat")
	}

	time.Sleep(3 * b.cfg.PollInterval())
	return nil
}
