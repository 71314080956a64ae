// Package session implements the client side of the pub/sub session
// protocol: the join handshake, request/response correlation for subscribe
// and unsubscribe, and dispatch of inbound messages to event handlers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pcreech/wampsub/internal/metrics"
	"github.com/pcreech/wampsub/internal/protocol"
)

var (
	// ErrRoleNotAllowed reports a join attempt with a role this build does
	// not implement. Raised before any network I/O.
	ErrRoleNotAllowed = errors.New("role not allowed")

	// ErrSessionClosed reports an operation on a session whose transport is
	// gone.
	ErrSessionClosed = errors.New("session closed")
)

// EventHandler receives one published event. Handlers run on the inbound
// dispatch goroutine, so a slow handler delays subsequent frames.
type EventHandler func(details map[string]any, args []any, kwargs map[string]any)

// Transport is the connection a session sends frames on. *transport.Conn
// implements it; tests substitute their own.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Session is the per-connection protocol state. A Session is owned by
// exactly one transport connection and is never reused across connections.
//
// The mutable tables are touched from two goroutines (the inbound dispatch
// loop and whichever goroutine calls Subscribe/Unsubscribe/Leave), so a
// single session-scoped mutex guards them.
type Session struct {
	realm string
	role  protocol.Role

	logger     *slog.Logger
	metrics    *metrics.Metrics
	onError    func(errorURI string)
	cancelRead context.CancelFunc

	mu            sync.Mutex
	tr            Transport
	id            int64 // 0 until Welcome arrives; set exactly once
	requestID     int64 // incremented before each allocation, never reused
	pendingSubs   map[int64]EventHandler
	pendingUnsubs map[int64]int64 // request id -> subscription id
	subs          map[int64]EventHandler
	closed        bool

	established chan struct{}
	done        chan struct{}
}

func newSession(realm string, role protocol.Role, tr Transport, logger *slog.Logger, m *metrics.Metrics, onError func(string)) *Session {
	return &Session{
		realm:         realm,
		role:          role,
		logger:        logger,
		metrics:       m,
		onError:       onError,
		cancelRead:    func() {},
		tr:            tr,
		pendingSubs:   make(map[int64]EventHandler),
		pendingUnsubs: make(map[int64]int64),
		subs:          make(map[int64]EventHandler),
		established:   make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// ID returns the router-assigned session id, or 0 if no Welcome has been
// received yet.
func (s *Session) ID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Realm returns the realm this session joined.
func (s *Session) Realm() string { return s.realm }

// Role returns the negotiated client role.
func (s *Session) Role() protocol.Role { return s.role }

// Established returns a channel that closes once the Welcome arrives and the
// session id is assigned.
func (s *Session) Established() <-chan struct{} { return s.established }

// Done returns a channel that closes when the session ends, whether by
// Leave, a Goodbye exchange, or transport loss.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe asks the router to deliver events for topic to handler. The
// call returns once the request is on the wire; confirmation arrives later
// as a Subscribed (or Error) frame. The handler is registered before the
// send so a reply cannot race ahead of registration.
func (s *Session) Subscribe(ctx context.Context, topic string, options map[string]any, handler EventHandler) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.requestID++
	reqID := s.requestID
	s.pendingSubs[reqID] = handler
	s.mu.Unlock()

	msg := protocol.Subscribe{RequestID: reqID, Options: options, Topic: topic}
	if err := s.send(ctx, msg); err != nil {
		s.mu.Lock()
		delete(s.pendingSubs, reqID)
		s.mu.Unlock()
		return fmt.Errorf("send subscribe: %w", err)
	}
	s.logger.Debug("subscribe sent", "topic", topic, "requestId", reqID)
	return nil
}

// Unsubscribe asks the router to stop delivering events for the given
// subscription id. The handler entry is removed once the Unsubscribed
// acknowledgment arrives.
func (s *Session) Unsubscribe(ctx context.Context, subscriptionID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.requestID++
	reqID := s.requestID
	s.pendingUnsubs[reqID] = subscriptionID
	s.mu.Unlock()

	msg := protocol.Unsubscribe{RequestID: reqID, SubscriptionID: subscriptionID}
	if err := s.send(ctx, msg); err != nil {
		s.mu.Lock()
		delete(s.pendingUnsubs, reqID)
		s.mu.Unlock()
		return fmt.Errorf("send unsubscribe: %w", err)
	}
	s.logger.Debug("unsubscribe sent", "subscriptionId", subscriptionID, "requestId", reqID)
	return nil
}

// Leave sends a Goodbye on a best-effort basis and closes the session.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.mu.Unlock()

	_ = s.send(ctx, protocol.Goodbye{Reason: protocol.ReasonCloseRealm})
	s.close(nil)
	return nil
}

// Disconnect tears the connection down immediately, without a Goodbye
// exchange. Safe to call more than once.
func (s *Session) Disconnect() {
	s.close(nil)
}

// send encodes and writes one message, recording it in metrics on success.
func (s *Session) send(ctx context.Context, m protocol.Message) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	tr := s.tr
	s.mu.Unlock()

	data, err := protocol.EncodeFrame(m)
	if err != nil {
		return err
	}
	if err := tr.Send(ctx, data); err != nil {
		return err
	}
	s.metrics.MessageSent(m.Tag().String())
	return nil
}

// close tears the session down: pending and active tables are cleared, the
// transport is closed, and Done is signalled. Idempotent.
func (s *Session) close(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pendingSubs = make(map[int64]EventHandler)
	s.pendingUnsubs = make(map[int64]int64)
	s.subs = make(map[int64]EventHandler)
	tr := s.tr
	s.mu.Unlock()

	s.cancelRead()
	_ = tr.Close()
	s.metrics.SetSessionUp(false)
	s.metrics.ResetSubscriptions()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Info("session closed", "error", err)
	} else {
		s.logger.Info("session closed")
	}
	close(s.done)
}

// reportError routes an error message text to the session-level callback.
// The callback is a terminal sink and runs without the session mutex held.
func (s *Session) reportError(text string) {
	if s.onError == nil {
		return
	}
	s.onError(text)
}
