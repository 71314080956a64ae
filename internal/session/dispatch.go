package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pcreech/wampsub/internal/metrics"
	"github.com/pcreech/wampsub/internal/protocol"
)

const goodbyeTimeout = 5 * time.Second

// handleFrame is the single inbound dispatch path. The transport invokes it
// once per frame, in arrival order, from one goroutine; correlation depends
// on that ordering, so frames are never processed in parallel.
//
// A frame that fails to decode is reported and dropped; it never terminates
// the session.
func (s *Session) handleFrame(data []byte) {
	msg, err := protocol.DecodeFrame(data)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.Warn("dropping undecodable frame", "error", err)
		s.reportError(err.Error())
		return
	}
	s.metrics.MessageReceived(msg.Tag().String())

	switch m := msg.(type) {
	case protocol.Welcome:
		s.handleWelcome(m)
	case protocol.Subscribed:
		s.handleSubscribed(m)
	case protocol.Unsubscribed:
		s.handleUnsubscribed(m)
	case protocol.Event:
		s.handleEvent(m)
	case protocol.Error:
		s.handleError(m)
	case protocol.Goodbye:
		s.handleGoodbye(m)
	case protocol.Hello, protocol.Subscribe, protocol.Unsubscribe:
		// Client-to-router messages arriving at a client are a violation by
		// the remote; report and keep running.
		s.logger.Warn("unexpected inbound message", "type", m.Tag().String())
		s.reportError(fmt.Sprintf("unexpected inbound %s", m.Tag()))
	}
}

// handleWelcome assigns the session id. The id transitions from absent to
// present exactly once; later Welcomes are dropped.
func (s *Session) handleWelcome(m protocol.Welcome) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.id != 0 {
		s.mu.Unlock()
		s.logger.Warn("duplicate welcome dropped", "sessionId", m.SessionID)
		return
	}
	s.id = m.SessionID
	s.mu.Unlock()

	s.metrics.SetSessionUp(true)
	s.logger.Info("session established", "sessionId", m.SessionID, "realm", s.realm)
	close(s.established)
}

// handleSubscribed moves a pending subscribe's handler under its assigned
// subscription id. An acknowledgment with no pending request is a remote
// violation, not a local fault: it is ignored.
func (s *Session) handleSubscribed(m protocol.Subscribed) {
	s.mu.Lock()
	handler, ok := s.pendingSubs[m.RequestID]
	if ok {
		delete(s.pendingSubs, m.RequestID)
		s.subs[m.SubscriptionID] = handler
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("subscribed with no pending request", "requestId", m.RequestID)
		return
	}
	s.metrics.SubscriptionConfirmed()
	s.logger.Debug("subscription confirmed", "requestId", m.RequestID, "subscriptionId", m.SubscriptionID)
}

// handleUnsubscribed completes a pending unsubscribe and removes the
// subscription's handler entry.
func (s *Session) handleUnsubscribed(m protocol.Unsubscribed) {
	s.mu.Lock()
	subID, ok := s.pendingUnsubs[m.RequestID]
	removed := false
	if ok {
		delete(s.pendingUnsubs, m.RequestID)
		if _, had := s.subs[subID]; had {
			delete(s.subs, subID)
			removed = true
		}
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("unsubscribed with no pending request", "requestId", m.RequestID)
		return
	}
	if removed {
		s.metrics.SubscriptionRemoved()
	}
	s.logger.Debug("subscription removed", "subscriptionId", subID)
}

// handleEvent delivers a publication to the handler registered for its
// subscription id. Events for unknown subscriptions are undeliverable and
// dropped without error.
func (s *Session) handleEvent(m protocol.Event) {
	s.mu.Lock()
	handler, ok := s.subs[m.SubscriptionID]
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return
	}
	if !ok {
		s.metrics.EventDropped()
		s.logger.Debug("event for unknown subscription dropped", "subscriptionId", m.SubscriptionID)
		return
	}
	s.metrics.EventDispatched()
	handler(m.Details, m.Args, m.Kwargs)
}

// handleError correlates a router error to a pending request if possible,
// then routes the error text to the session-level callback. The event
// handler of a failed subscribe is never invoked.
func (s *Session) handleError(m protocol.Error) {
	errCtx := metrics.ContextSession
	switch m.RequestType {
	case protocol.TagSubscribe:
		s.mu.Lock()
		if _, ok := s.pendingSubs[m.RequestID]; ok {
			delete(s.pendingSubs, m.RequestID)
			errCtx = metrics.ContextSubscribe
		}
		s.mu.Unlock()
	case protocol.TagUnsubscribe:
		s.mu.Lock()
		if _, ok := s.pendingUnsubs[m.RequestID]; ok {
			delete(s.pendingUnsubs, m.RequestID)
			errCtx = metrics.ContextUnsubscribe
		}
		s.mu.Unlock()
	}

	s.metrics.ProtocolError(errCtx)
	s.logger.Warn("router error", "uri", m.URI, "requestType", m.RequestType.String(), "requestId", m.RequestID)
	s.reportError(m.URI)
}

// handleGoodbye completes the close handshake: reply with goodbye_and_out
// on a best-effort basis, then discard the session.
func (s *Session) handleGoodbye(m protocol.Goodbye) {
	s.logger.Info("goodbye received", "reason", m.Reason)
	if m.Reason != protocol.ReasonGoodbyeAndOut {
		ctx, cancel := context.WithTimeout(context.Background(), goodbyeTimeout)
		_ = s.send(ctx, protocol.Goodbye{Reason: protocol.ReasonGoodbyeAndOut})
		cancel()
	}
	s.close(nil)
}

// handleTransportClose invalidates the session when the connection drops.
func (s *Session) handleTransportClose(err error) {
	s.close(err)
}
