package bridge

import (
	"fmt"

	"github.com/osu-uwrt/riptide-fw-bridge/errors"
)

// HandshakeMismatchError reports a client handshake carrying a protocol
// version other than the one this bridge was compiled with. The packet is
// dropped without a response; the client is expected to retry after a
// firmware or bridge update brings the two sides back in line.
type HandshakeMismatchError struct {
	Got  uint32
	Want uint32
}

func (e *HandshakeMismatchError) Error() string {
	return fmt.Sprintf("protocol version mismatch: client sent %d, bridge expects %d", e.Got, e.Want)
}

func (e *HandshakeMismatchError) Unwrap() error { return errors.ErrInvalidData }

// UnroutableError reports an envelope member the bound target has no
// inbound route for: an outbound-only topic, another target's topic, or a
// member the bridge only ever sends itself.
type UnroutableError struct {
	Member string
}

func (e *UnroutableError) Error() string {
	return fmt.Sprintf("member %q is not routable inbound for this target", e.Member)
}

func (e *UnroutableError) Unwrap() error { return errors.ErrInvalidData }

// errEmptyEnvelope flags a decoded packet whose union carries nothing and
// whose token is zero, so there is nothing to route and nothing to ack.
var errEmptyEnvelope = fmt.Errorf("envelope carries no member: %w", errors.ErrInvalidData)
