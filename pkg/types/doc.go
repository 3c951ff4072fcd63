/*
Package types defines the core data structures shared by the bridge daemon:
task descriptors, failure sidecars, inbox/outbox messages, the shutdown
signal, and the heartbeat. These are the documents persisted to the
filesystem fabric described in pkg/taskstore, pkg/mailbox, and pkg/control;
this package only holds their shapes, not their I/O.
*/
package types
