package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrAuthRejected marks a connection attempt refused by the server for bad
// credentials. It is terminal for the attempt and never auto-retried.
var ErrAuthRejected = errors.New("authentication rejected")

// MsgConn is one established bidirectional ordered message channel.
type MsgConn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Transport opens message channels to the server.
type Transport interface {
	Dial(ctx context.Context, serverURL, token string) (MsgConn, error)
}

// wsTransport dials the realtime hub over websocket, passing the connection
// token as a query parameter.
type wsTransport struct {
	handshakeTimeout time.Duration
}

// NewWebsocketTransport builds the production transport.
func NewWebsocketTransport(handshakeTimeout time.Duration) Transport {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &wsTransport{handshakeTimeout: handshakeTimeout}
}

func (t *wsTransport) Dial(ctx context.Context, serverURL, token string) (MsgConn, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrAuthRejected
		}
		return nil, err
	}
	return conn, nil
}
