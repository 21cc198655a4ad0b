package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeWait       = 10 * time.Second
	maxMessageBytes = 1 << 20
)

// WebsocketDialer connects to a relay speaking JSON frames over a websocket.
// Outbound frames are OutboundMessage; inbound frames are Envelope.
type WebsocketDialer struct {
	// Origin is sent as the Origin header of the handshake.
	Origin string
	Dialer *websocket.Dialer
}

func (d *WebsocketDialer) Dial(ctx context.Context, target string) (Conn, error) { //nolint:ireturn
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	if d.Origin != "" {
		header.Set("Origin", d.Origin)
	}

	ws, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", target)
	}
	ws.SetReadLimit(maxMessageBytes)

	return &websocketConn{ws: ws}, nil
}

type websocketConn struct {
	ws *websocket.Conn
}

func (c *websocketConn) WriteMessage(msg *OutboundMessage) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}

	return errors.Wrap(c.ws.WriteJSON(msg), "failed to write message")
}

func (c *websocketConn) ReadEnvelope() (*Envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}

	return &env, nil
}

func (c *websocketConn) Close() error {
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))

	return c.ws.Close()
}
