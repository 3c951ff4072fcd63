package bridge

import "github.com/fleetbridge/bridge/pkg/types"

// runShutdownSequence implements spec §4.H.1: terminate any live child,
// acknowledge the request in the outbox, delete the signal file and the
// heartbeat, and let the caller's process exit be the final step (the
// multiplexer-session kill and registry unregister are out of scope for
// this core — they belong to the surrounding CLI front end). requestID is
// the id from the shutdown signal document being acked, carried through
// to the shutdown_ack outbox message.
func (b *Bridge) runShutdownSequence(reason, requestID string) error {
	b.logger.Info().Str("reason", reason).Msg("running shutdown sequence")

	b.mu.Lock()
	handle := b.currentHandle
	b.mu.Unlock()
	if handle != nil {
		handle.Kill()
	}

	if err := b.outbox.Append(types.OutboxMessage{Type: types.OutboxShutdownAck, RequestID: requestID}); err != nil {
		b.logger.Warn().Err(err).Msg("appending shutdown_ack outbox entry")
	}

	if err := b.shutdown.Delete(); err != nil {
		b.logger.Warn().Err(err).Msg("deleting shutdown signal file")
	}
	if err := b.heart.Delete(); err != nil {
		b.logger.Warn().Err(err).Msg("deleting heartbeat")
	}

	b.logger.Info().Msg("shutdown sequence complete")
	return nil
}
