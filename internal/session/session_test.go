package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/pcreech/wampsub/internal/protocol"
)

// mockTransport records sent frames and lets tests inject send failures.
type mockTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

func (m *mockTransport) Send(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// sent decodes everything written to the transport so far.
func (m *mockTransport) sent(t *testing.T) []protocol.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]protocol.Message, 0, len(m.frames))
	for _, data := range m.frames {
		msg, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("transport holds undecodable frame %s: %v", data, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(onError func(string)) (*Session, *mockTransport) {
	tr := &mockTransport{}
	s := newSession("test.realm", protocol.RoleSubscriber, tr, testLogger(), nil, onError)
	return s, tr
}

// deliver feeds an inbound message through the wire codec into the
// dispatcher, the same path a received frame takes.
func deliver(t *testing.T, s *Session, m protocol.Message) {
	t.Helper()
	data, err := protocol.EncodeFrame(m)
	if err != nil {
		t.Fatalf("encode inbound %T: %v", m, err)
	}
	s.handleFrame(data)
}

func TestRequestIDsStrictlyIncreasing(t *testing.T) {
	s, tr := newTestSession(nil)
	for i := 0; i < 3; i++ {
		if err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {}); err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
	}
	if err := s.Unsubscribe(context.Background(), 900); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	var prev int64
	for i, msg := range tr.sent(t) {
		var reqID int64
		switch m := msg.(type) {
		case protocol.Subscribe:
			reqID = m.RequestID
		case protocol.Unsubscribe:
			reqID = m.RequestID
		default:
			t.Fatalf("unexpected message %T", msg)
		}
		if reqID != int64(i+1) {
			t.Errorf("request id %d = %d, want %d", i, reqID, i+1)
		}
		if reqID <= prev {
			t.Errorf("request id %d not strictly increasing: %d after %d", i, reqID, prev)
		}
		prev = reqID
	}
}

func TestWelcomeEstablishesSession(t *testing.T) {
	s, _ := newTestSession(nil)
	if s.ID() != 0 {
		t.Fatalf("id before welcome = %d, want 0", s.ID())
	}
	select {
	case <-s.Established():
		t.Fatal("established before welcome")
	default:
	}

	deliver(t, s, protocol.Welcome{SessionID: 42, Details: map[string]any{}})

	if s.ID() != 42 {
		t.Errorf("id = %d, want 42", s.ID())
	}
	select {
	case <-s.Established():
	default:
		t.Error("established channel still open after welcome")
	}
}

func TestDuplicateWelcomeDropped(t *testing.T) {
	s, _ := newTestSession(nil)
	deliver(t, s, protocol.Welcome{SessionID: 42, Details: map[string]any{}})
	deliver(t, s, protocol.Welcome{SessionID: 43, Details: map[string]any{}})
	if s.ID() != 42 {
		t.Errorf("id = %d, want first welcome's 42", s.ID())
	}
}

func TestSubscribeFlow(t *testing.T) {
	s, tr := newTestSession(nil)

	var calls int
	var gotArgs []any
	handler := func(details map[string]any, args []any, kwargs map[string]any) {
		calls++
		gotArgs = args
		if kwargs != nil {
			t.Errorf("kwargs = %v, want nil", kwargs)
		}
	}
	if err := s.Subscribe(context.Background(), "com.topic", map[string]any{}, handler); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	sent := tr.sent(t)
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	sub, ok := sent[0].(protocol.Subscribe)
	if !ok {
		t.Fatalf("sent %T, want Subscribe", sent[0])
	}
	if sub.RequestID != 1 || sub.Topic != "com.topic" {
		t.Errorf("sent Subscribe{%d, %q}, want Subscribe{1, com.topic}", sub.RequestID, sub.Topic)
	}

	deliver(t, s, protocol.Subscribed{RequestID: 1, SubscriptionID: 900})
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1001, Details: map[string]any{}, Args: []any{1, 2}})

	if calls != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1", calls)
	}
	if len(gotArgs) != 2 || gotArgs[0] != json.Number("1") || gotArgs[1] != json.Number("2") {
		t.Errorf("args = %#v, want [1 2]", gotArgs)
	}
}

func TestEventForUnknownSubscriptionDropped(t *testing.T) {
	errs := 0
	s, _ := newTestSession(func(string) { errs++ })
	deliver(t, s, protocol.Event{SubscriptionID: 777, PublicationID: 1, Details: map[string]any{}})
	if errs != 0 {
		t.Errorf("error callback invoked %d times, want 0", errs)
	}
}

func TestSubscribedWithoutPendingIgnored(t *testing.T) {
	s, _ := newTestSession(nil)
	deliver(t, s, protocol.Subscribed{RequestID: 5, SubscriptionID: 900})
	// No handler was registered, so the event has nowhere to go.
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1, Details: map[string]any{}})
}

func TestSubscribeErrorInvokesErrorCallback(t *testing.T) {
	var gotErr string
	s, _ := newTestSession(func(uri string) { gotErr = uri })

	handlerCalled := false
	if err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {
		handlerCalled = true
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deliver(t, s, protocol.Error{
		RequestType: protocol.TagSubscribe,
		RequestID:   1,
		Details:     map[string]any{},
		URI:         "wamp.error.not_authorized",
	})

	if gotErr != "wamp.error.not_authorized" {
		t.Errorf("error callback got %q, want wamp.error.not_authorized", gotErr)
	}

	// The pending entry is consumed: a late Subscribed must not resurrect it.
	deliver(t, s, protocol.Subscribed{RequestID: 1, SubscriptionID: 900})
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1, Details: map[string]any{}})
	if handlerCalled {
		t.Error("event handler invoked despite subscribe error")
	}
}

func TestUnsubscribeFlow(t *testing.T) {
	s, tr := newTestSession(nil)

	calls := 0
	if err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {
		calls++
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deliver(t, s, protocol.Subscribed{RequestID: 1, SubscriptionID: 900})

	if err := s.Unsubscribe(context.Background(), 900); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	sent := tr.sent(t)
	unsub, ok := sent[len(sent)-1].(protocol.Unsubscribe)
	if !ok {
		t.Fatalf("last sent = %T, want Unsubscribe", sent[len(sent)-1])
	}
	if unsub.RequestID != 2 || unsub.SubscriptionID != 900 {
		t.Errorf("sent Unsubscribe{%d, %d}, want Unsubscribe{2, 900}", unsub.RequestID, unsub.SubscriptionID)
	}

	deliver(t, s, protocol.Unsubscribed{RequestID: 2})
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1, Details: map[string]any{}})
	if calls != 0 {
		t.Errorf("handler invoked %d times after unsubscribe, want 0", calls)
	}
}

func TestGenericErrorDispatch(t *testing.T) {
	var gotErr string
	s, _ := newTestSession(func(uri string) { gotErr = uri })
	deliver(t, s, protocol.Error{
		RequestType: protocol.TagPublish,
		RequestID:   9,
		Details:     map[string]any{},
		URI:         "wamp.error.protocol_violation",
	})
	if gotErr != "wamp.error.protocol_violation" {
		t.Errorf("error callback got %q, want wamp.error.protocol_violation", gotErr)
	}
}

func TestDecodeErrorReportedAndDispatchContinues(t *testing.T) {
	errs := 0
	s, _ := newTestSession(func(string) { errs++ })

	s.handleFrame([]byte("not json"))
	if errs != 1 {
		t.Fatalf("error callback invoked %d times, want 1", errs)
	}

	// A bad frame must not take the session down.
	deliver(t, s, protocol.Welcome{SessionID: 42, Details: map[string]any{}})
	if s.ID() != 42 {
		t.Errorf("session did not establish after decode error, id = %d", s.ID())
	}
}

func TestSendFailureRemovesPending(t *testing.T) {
	s, tr := newTestSession(nil)
	tr.sendErr = errors.New("broken pipe")

	called := false
	err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {
		called = true
	})
	if err == nil {
		t.Fatal("subscribe succeeded despite send failure")
	}

	tr.sendErr = nil
	deliver(t, s, protocol.Subscribed{RequestID: 1, SubscriptionID: 900})
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1, Details: map[string]any{}})
	if called {
		t.Error("handler invoked for a subscribe that never went out")
	}
}

func TestGoodbyeExchange(t *testing.T) {
	s, tr := newTestSession(nil)
	deliver(t, s, protocol.Goodbye{Details: map[string]any{}, Reason: protocol.ReasonCloseRealm})

	sent := tr.sent(t)
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1 goodbye reply", len(sent))
	}
	reply, ok := sent[0].(protocol.Goodbye)
	if !ok {
		t.Fatalf("sent %T, want Goodbye", sent[0])
	}
	if reply.Reason != protocol.ReasonGoodbyeAndOut {
		t.Errorf("reply reason = %q, want %q", reply.Reason, protocol.ReasonGoodbyeAndOut)
	}

	select {
	case <-s.Done():
	default:
		t.Error("session not done after goodbye exchange")
	}
	if !tr.closed {
		t.Error("transport not closed after goodbye exchange")
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	s, _ := newTestSession(nil)
	s.Disconnect()

	if err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Subscribe after close = %v, want ErrSessionClosed", err)
	}
	if err := s.Unsubscribe(context.Background(), 900); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Unsubscribe after close = %v, want ErrSessionClosed", err)
	}
	if err := s.Leave(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Leave after close = %v, want ErrSessionClosed", err)
	}
}

func TestHandlersSilentAfterClose(t *testing.T) {
	s, _ := newTestSession(nil)
	calls := 0
	if err := s.Subscribe(context.Background(), "com.topic", nil, func(map[string]any, []any, map[string]any) {
		calls++
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	deliver(t, s, protocol.Subscribed{RequestID: 1, SubscriptionID: 900})

	s.Disconnect()
	deliver(t, s, protocol.Event{SubscriptionID: 900, PublicationID: 1, Details: map[string]any{}})
	if calls != 0 {
		t.Errorf("handler invoked %d times after close, want 0", calls)
	}
}

func TestLeaveSendsGoodbye(t *testing.T) {
	s, tr := newTestSession(nil)
	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}

	sent := tr.sent(t)
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	gb, ok := sent[0].(protocol.Goodbye)
	if !ok {
		t.Fatalf("sent %T, want Goodbye", sent[0])
	}
	if gb.Reason != protocol.ReasonCloseRealm {
		t.Errorf("reason = %q, want %q", gb.Reason, protocol.ReasonCloseRealm)
	}
	select {
	case <-s.Done():
	default:
		t.Error("session not done after leave")
	}
}

func TestHelloDetails(t *testing.T) {
	t.Run("mandatory fields only", func(t *testing.T) {
		details := helloDetails(Config{Agent: "wampsub", Role: protocol.RoleSubscriber})
		if details["agent"] != "wampsub" {
			t.Errorf("agent = %v, want wampsub", details["agent"])
		}
		roles, ok := details["roles"].(map[string]any)
		if !ok || len(roles) != 1 {
			t.Fatalf("roles = %#v, want one-entry mapping", details["roles"])
		}
		caps, ok := roles["subscriber"].(map[string]any)
		if !ok || len(caps) != 0 {
			t.Errorf("roles[subscriber] = %#v, want empty mapping", roles["subscriber"])
		}
		for _, key := range []string{"authid", "authrole", "authmethods", "authextra"} {
			if _, present := details[key]; present {
				t.Errorf("unset auth field %q present in details", key)
			}
		}
	})
	t.Run("auth fields included when set", func(t *testing.T) {
		details := helloDetails(Config{
			Agent:       "wampsub",
			Role:        protocol.RoleSubscriber,
			AuthID:      "peter",
			AuthRole:    "frontend",
			AuthMethods: []string{"ticket"},
		})
		if details["authid"] != "peter" || details["authrole"] != "frontend" {
			t.Errorf("auth fields = %v/%v", details["authid"], details["authrole"])
		}
		methods, ok := details["authmethods"].([]string)
		if !ok || len(methods) != 1 || methods[0] != "ticket" {
			t.Errorf("authmethods = %#v, want [ticket]", details["authmethods"])
		}
	})
}
