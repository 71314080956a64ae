package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pcreech/wampsub/internal/metrics"
	"github.com/pcreech/wampsub/internal/protocol"
	"github.com/pcreech/wampsub/internal/transport"
)

const defaultAgent = "wampsub"

// Config holds parameters for joining a realm.
type Config struct {
	// URL is the WebSocket address of the router.
	URL string

	// Realm is the routing namespace to join.
	Realm string

	// Role is the client role to negotiate. Defaults to subscriber, which is
	// also the only role this build implements.
	Role protocol.Role

	// Agent identifies this client in the Hello details. Optional.
	Agent string

	// Opaque authentication fields, each included in the Hello details only
	// if set. No challenge/response handling happens client-side.
	AuthID      string
	AuthRole    string
	AuthMethods []string
	AuthExtra   map[string]any

	// DialTimeout bounds the WebSocket dial. Zero means the transport
	// default.
	DialTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics // optional; nil disables metrics

	// OnError receives error message texts the router sends and decode
	// failures observed during dispatch. Optional.
	OnError func(errorURI string)
}

// Join connects to the router and opens a session: role validation, dial,
// Hello. It returns once the Hello is on the wire; establishment of the
// session id happens asynchronously when the Welcome arrives (observe it
// via Established). Any failure closes the connection and returns the
// error; there is no retry.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Role == "" {
		cfg.Role = protocol.RoleSubscriber
	}
	if cfg.Agent == "" {
		cfg.Agent = defaultAgent
	}

	// Fail fast on local misconfiguration, without a network round trip.
	if !protocol.IsAllowed(cfg.Role) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotAllowed, cfg.Role)
	}

	start := time.Now()
	conn, err := transport.Dial(ctx, cfg.URL, cfg.DialTimeout, cfg.Logger)
	if err != nil {
		return nil, err
	}

	s := newSession(cfg.Realm, cfg.Role, conn, conn.Logger(), cfg.Metrics, cfg.OnError)

	hello := protocol.Hello{Realm: cfg.Realm, Details: helloDetails(cfg)}
	if err := s.send(ctx, hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	cfg.Metrics.ObserveHandshakeDuration(time.Since(start).Seconds())
	s.logger.Debug("hello sent", "realm", cfg.Realm, "role", cfg.Role.Name())

	// The read loop outlives the join context; it ends when the session
	// closes or the transport drops.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelRead = cancel
	go conn.ReadLoop(loopCtx, s.handleFrame, s.handleTransportClose)

	return s, nil
}

// helloDetails assembles the Hello details: the mandatory agent string and
// roles mapping (role name to an empty capability mapping, extensible for
// future feature flags), plus whichever auth fields are set.
func helloDetails(cfg Config) map[string]any {
	details := map[string]any{
		"agent": cfg.Agent,
		"roles": map[string]any{
			cfg.Role.Name(): map[string]any{},
		},
	}
	if len(cfg.AuthMethods) > 0 {
		details["authmethods"] = cfg.AuthMethods
	}
	if cfg.AuthID != "" {
		details["authid"] = cfg.AuthID
	}
	if cfg.AuthRole != "" {
		details["authrole"] = cfg.AuthRole
	}
	if len(cfg.AuthExtra) > 0 {
		details["authextra"] = cfg.AuthExtra
	}
	return details
}
