// Package transport provides the WebSocket carrier for protocol frames.
//
// The protocol layer needs exactly three things from it: send one frame,
// receive frames one at a time in arrival order, and learn when the
// connection is gone. Everything else (framing, masking, close handshakes)
// stays inside coder/websocket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Subprotocol is the WebSocket subprotocol for JSON-serialized sessions.
const Subprotocol = "wamp.2.json"

const defaultDialTimeout = 30 * time.Second

// ErrWrongSubprotocol reports a server that accepted the connection but
// negotiated a subprotocol other than Subprotocol.
var ErrWrongSubprotocol = errors.New("wrong websocket subprotocol")

// Conn is one WebSocket connection carrying protocol frames. A Conn is
// owned by exactly one session for its lifetime.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger
}

// Dial opens a WebSocket connection to url, requiring the wamp.2.json
// subprotocol. timeout bounds the dial; zero means the default.
func Dial(ctx context.Context, url string, timeout time.Duration, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ws, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("dial router: %w", err)
	}
	if ws.Subprotocol() != Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "wrong subprotocol")
		return nil, fmt.Errorf("%w: negotiated %q", ErrWrongSubprotocol, ws.Subprotocol())
	}

	// Short correlation id so log lines from concurrent connections can be
	// told apart.
	logger = logger.With("conn", uuid.NewString()[:8])
	logger.Debug("transport connected", "url", url)
	return &Conn{ws: ws, logger: logger}, nil
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() *slog.Logger { return c.logger }

// Send writes one text frame. It may block on the underlying connection and
// returns the transport error on failure.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	return nil
}

// ReadLoop reads frames until the connection or ctx ends, invoking onFrame
// once per frame in arrival order from a single goroutine. onClose fires
// exactly once, with the terminal error, after the last frame.
func (c *Conn) ReadLoop(ctx context.Context, onFrame func([]byte), onClose func(error)) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.logger.Debug("transport closed", "error", err)
			onClose(err)
			return
		}
		onFrame(data)
	}
}

// Close performs a normal WebSocket closure.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
