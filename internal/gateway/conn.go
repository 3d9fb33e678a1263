package gateway

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// apiVersion is the gateway protocol version spoken by this client.
	apiVersion = "10"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket upgrade.
	handshakeTimeout = 10 * time.Second

	// frameBufferSize is the inbound frame channel capacity.
	frameBufferSize = 256
)

// frame is one raw websocket message from the gateway.
type frame struct {
	messageType int
	data        []byte
}

// wsConn is one transport connection. It owns the read pump and serializes
// writes; everything above it sees a channel of frames and a write method.
type wsConn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	frames chan frame
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	mu        sync.Mutex
	readErr   error
	closeCode CloseCode
	hasClose  bool
}

// gatewayURL decorates the base URL with version, encoding and compression
// query parameters.
func gatewayURL(base string, compress bool) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("v", apiVersion)
	q.Set("encoding", "json")
	if compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dialGateway opens a secured websocket stream and starts its read pump.
func dialGateway(ctx context.Context, rawURL string, logger *zap.Logger) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		ws:     ws,
		logger: logger,
		frames: make(chan frame, frameBufferSize),
		done:   make(chan struct{}),
	}
	go c.readPump()

	logger.Debug("websocket connected", zap.String("url", rawURL))
	return c, nil
}

// Frames returns the inbound frame channel. It is closed when the read pump
// exits; consult closeInfo afterwards for the reason.
func (c *wsConn) Frames() <-chan frame { return c.frames }

// write sends one text message, serializing concurrent writers.
func (c *wsConn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return ErrNotConnected
	default:
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// close sends a close frame with the given code and tears the transport
// down. Safe to call more than once.
func (c *wsConn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		c.ws.Close()
	})
}

// closeInfo reports why the read pump stopped: the peer's close code when
// one was received, and the terminal read error otherwise.
func (c *wsConn) closeInfo() (code CloseCode, hasCode bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.hasClose, c.readErr
}

func (c *wsConn) readPump() {
	defer close(c.frames)

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.closeCode = CloseCode(ce.Code)
				c.hasClose = true
			}
			c.readErr = err
			c.mu.Unlock()

			select {
			case <-c.done:
				// Local close; nothing to report.
			default:
				c.logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}

		select {
		case c.frames <- frame{messageType: mt, data: data}:
		case <-c.done:
			return
		}
	}
}
