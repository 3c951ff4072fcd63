// Package bridge drives the per-worker state machine: poll the task
// store, build a prompt from the claimed task and queued inbox context,
// run the provider CLI supervisor against it, and record the outcome to
// the outbox, all while honoring shutdown signals and the quarantine
// policy.
package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetbridge/bridge/pkg/config"
	"github.com/fleetbridge/bridge/pkg/control"
	"github.com/fleetbridge/bridge/pkg/log"
	"github.com/fleetbridge/bridge/pkg/mailbox"
	"github.com/fleetbridge/bridge/pkg/metrics"
	"github.com/fleetbridge/bridge/pkg/provider"
	"github.com/fleetbridge/bridge/pkg/taskstore"
	"github.com/fleetbridge/bridge/pkg/types"
)

// The stateRoot passed to New is where the filesystem fabric (tasks/,
// teams/) is rooted. It is passed explicitly rather than derived, since it
// is typically a per-user XDG state directory the caller already resolved.

// Bridge is one worker's state machine. It owns no shared state outside
// the filesystem fabric: every field here is either local bookkeeping
// (the idle flag, the consecutive-error count) or a handle to a fabric
// component.
type Bridge struct {
	cfg    *config.Config
	logger zerolog.Logger

	tasks    *taskstore.Store
	inbox    *mailbox.Inbox
	outbox   *mailbox.Outbox
	shutdown *control.ShutdownSignal
	heart    *control.Heartbeat

	promptsDir string
	outputsDir string

	mu                 sync.Mutex
	consecutiveErrors  int
	idleNotified       bool
	quarantineNotified bool

	currentHandle *provider.Handle
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// New constructs a Bridge rooted at stateRoot for the worker described by
// cfg.
func New(stateRoot string, cfg *config.Config) (*Bridge, error) {
	tasks, err := taskstore.New(stateRoot, cfg.TeamName)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	inbox, err := mailbox.NewInbox(stateRoot, cfg.TeamName, cfg.WorkerName)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	outbox, err := mailbox.NewOutbox(stateRoot, cfg.TeamName, cfg.WorkerName)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	shutdownSig, err := control.NewShutdownSignal(stateRoot, cfg.TeamName, cfg.WorkerName)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}
	heart, err := control.NewHeartbeat(cfg.WorkingDirectory, cfg.TeamName, cfg.WorkerName, cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("bridge: %w", err)
	}

	return &Bridge{
		cfg:        cfg,
		logger:     log.WithWorker(cfg.TeamName, cfg.WorkerName),
		tasks:      tasks,
		inbox:      inbox,
		outbox:     outbox,
		shutdown:   shutdownSig,
		heart:      heart,
		promptsDir: cfg.WorkingDirectory + "/.omc/prompts",
		outputsDir: cfg.WorkingDirectory + "/.omc/outputs",
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}, nil
}

// Run drives the bridge loop until a shutdown signal is observed or
// Stop is called. It returns once the shutdown sequence has completed.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.doneCh)
	b.logger.Info().Msg("bridge loop starting")

	for {
		select {
		case <-b.stopCh:
			return b.runShutdownSequence("external stop", "")
		default:
		}

		if err := b.runCycle(ctx); err != nil {
			if err == errShutdown {
				return nil
			}
			b.logger.Error().Err(err).Msg("cycle failed, outer guard recovering")
			b.bumpError()
			time.Sleep(b.cfg.PollInterval())
			continue
		}
	}
}

// LastHeartbeat returns the timestamp of the most recently written
// heartbeat document, for the health sidecar's readiness check.
func (b *Bridge) LastHeartbeat() (time.Time, bool) {
	hb, ok, err := b.heart.Read()
	if err != nil || !ok {
		return time.Time{}, false
	}
	return hb.LastPoll, true
}

// Stop requests the bridge loop exit and run the shutdown sequence at
// the next opportunity, without needing a signal file on disk. Used by
// the command entry point when it catches an OS signal directly.
func (b *Bridge) Stop() {
	select {
	case <-b.stopCh:
	default:
		close(b.stopCh)
	}
}

// Done is closed once Run has returned.
func (b *Bridge) Done() <-chan struct{} {
	return b.doneCh
}

func (b *Bridge) bumpError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors++
	metrics.ConsecutiveErrors.Set(float64(b.consecutiveErrors))
}

func (b *Bridge) resetErrors() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveErrors = 0
	metrics.ConsecutiveErrors.Set(0)
}

func (b *Bridge) errorCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveErrors
}

// errShutdown is a sentinel returned by runCycle to unwind Run cleanly
// once the shutdown sequence has already executed inside the cycle.
var errShutdown = fmt.Errorf("bridge: shutdown")

func pid() int {
	return os.Getpid()
}
