package server

import (
	"relay/models"
	"relay/storage"
)

// routeMessage delivers one message: over the recipient's most recently
// attached live channel when one accepts it, otherwise into the pending
// queue. Exactly one of the two happens per call; a push that fails
// because the channel is gone or full falls back to the queue, so a
// message is never lost and never duplicated.
func (s *Server) routeMessage(sender, recipient, body string) error {
	exists, err := s.storage.AccountExists(recipient)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrUnknownRecipient
	}

	if s.registry.Push(recipient, models.Push{Sender: sender, Body: body}) {
		s.log.Debug().Str("sender", sender).Str("recipient", recipient).Msg("message pushed live")
		return nil
	}

	if err := s.storage.EnqueueMessage(recipient, sender, body); err != nil {
		return err
	}
	s.log.Debug().Str("sender", sender).Str("recipient", recipient).Msg("message queued")
	return nil
}

// requeue returns an undeliverable push to the pending queue. An enqueue
// failure here means the account was deleted mid-flight; the message dies
// with it.
func (s *Server) requeue(recipient string, push models.Push) {
	if err := s.storage.EnqueueMessage(recipient, push.Sender, push.Body); err != nil {
		s.log.Warn().Err(err).Str("recipient", recipient).Msg("could not requeue undelivered message")
	}
}

// pushWriter drains a live channel into the connection. It exits when the
// registry closes the channel (detach, replacement, revocation or expiry
// sweep). On a write failure it detaches the channel itself and requeues
// the failed push plus everything still buffered, keeping delivery
// at-most-once but never zero.
func (s *Server) pushWriter(c *client, username, token string, ch <-chan models.Push) {
	for push := range ch {
		env := protocolPushEnvelope(push)
		if err := c.send(env); err != nil {
			s.registry.DetachChannel(token)
			s.requeue(username, push)
			for buffered := range ch {
				s.requeue(username, buffered)
			}
			return
		}
	}
}
