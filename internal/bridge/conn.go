package bridge

import (
	"context"

	"github.com/pkg/errors"
)

// ErrMalformedMessage is returned by ReadEnvelope for a frame that could not be
// decoded. The connection stays usable.
var ErrMalformedMessage = errors.New("malformed message")

// Conn is an established channel to the out-of-process signer.
// WriteMessage is never called concurrently; ReadEnvelope is only called from
// the bridge's read loop.
type Conn interface {
	WriteMessage(msg *OutboundMessage) error
	ReadEnvelope() (*Envelope, error)
	Close() error
}

// Dialer opens a Conn to target. Dial must return once ctx is done.
type Dialer interface {
	Dial(ctx context.Context, target string) (Conn, error)
}

type DialerFunc func(ctx context.Context, target string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, target string) (Conn, error) {
	return f(ctx, target)
}
