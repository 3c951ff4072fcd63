package types

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task is one unit of work assigned to a worker. It is persisted as a
// single document per task under tasks/<team>/<id>.
type Task struct {
	ID          string         `json:"id"`
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	Owner       string         `json:"owner"`
	Status      TaskStatus     `json:"status"`
	BlockedBy   []string       `json:"blockedBy,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	// Claim fields, written during the cooperative claim protocol.
	// Never cleared by the store after a successful completion — see
	// DESIGN.md for the open-question decision.
	ClaimedBy  string `json:"claimedBy,omitempty"`
	ClaimedAt  int64  `json:"claimedAt,omitempty"` // epoch millis
	ClaimPID   int    `json:"claimPid,omitempty"`
}

// FailureSidecar records execution failures for a task. It lives next to
// the task document as tasks/<team>/<id>.failure and is never deleted by
// the core.
type FailureSidecar struct {
	TaskID      string    `json:"taskId"`
	LastError   string    `json:"lastError"`
	RetryCount  int       `json:"retryCount"`
	LastFailure time.Time `json:"lastFailure"`
}

// InboxMessageType discriminates the kind of message the team lead sent.
type InboxMessageType string

const (
	InboxInstruction InboxMessageType = "instruction"
	InboxContext     InboxMessageType = "context"
	InboxNote        InboxMessageType = "note"
)

// InboxMessage is one record appended by the team lead to a worker's
// inbox log.
type InboxMessage struct {
	Type      InboxMessageType `json:"type"`
	Content   string           `json:"content"`
	Timestamp string           `json:"timestamp"` // ISO-8601
}

// OutboxMessageType discriminates the tagged-union variants a worker
// appends to its outbox log.
type OutboxMessageType string

const (
	OutboxTaskComplete OutboxMessageType = "task_complete"
	OutboxTaskFailed   OutboxMessageType = "task_failed"
	OutboxError        OutboxMessageType = "error"
	OutboxIdle         OutboxMessageType = "idle"
	OutboxShutdownAck  OutboxMessageType = "shutdown_ack"
)

// OutboxMessage is one record appended by the worker to its outbox log.
// Consumers (the team lead) must ignore fields that do not apply to the
// Type they observe, and must ignore unknown Type values for forward
// compatibility.
type OutboxMessage struct {
	Type      OutboxMessageType `json:"type"`
	Timestamp time.Time         `json:"timestamp"`

	// task_complete
	TaskID  string `json:"taskId,omitempty"`
	Summary string `json:"summary,omitempty"`

	// task_failed (also reuses TaskID above)
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// error / idle
	Message string `json:"message,omitempty"`

	// shutdown_ack
	RequestID string `json:"requestId,omitempty"`
}

// ShutdownSignal is written by the team lead under
// teams/<team>/signals/<worker>.shutdown to request a clean stop.
type ShutdownSignal struct {
	RequestID string    `json:"requestId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// LifecycleStatus is the worker's reported activity state.
type LifecycleStatus string

const (
	LifecyclePolling     LifecycleStatus = "polling"
	LifecycleExecuting   LifecycleStatus = "executing"
	LifecycleQuarantined LifecycleStatus = "quarantined"
)

// Heartbeat is written by a worker on every cycle (and around task
// execution) to report liveness and current activity.
type Heartbeat struct {
	Worker             string          `json:"worker"`
	Team               string          `json:"team"`
	Provider           string          `json:"provider"`
	PID                int             `json:"pid"`
	LastPoll           time.Time       `json:"lastPoll"`
	CurrentTaskID      string          `json:"currentTaskId,omitempty"`
	ConsecutiveErrors  int             `json:"consecutiveErrors"`
	Status             LifecycleStatus `json:"status"`
}

// Provider identifies which external CLI family drives a worker.
type Provider string

const (
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)
