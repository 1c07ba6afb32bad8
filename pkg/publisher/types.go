package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/eventgen/pkg/reasoncode"
)

// DefaultTopic is the single topic every synthetic event is published to.
const DefaultTopic = "events"

// State is the connectivity state of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Lost
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Lost:
		return "lost"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of a single publish attempt as reported by the
// transport.
type Outcome struct {
	Delivered  bool
	ReasonCode *reasoncode.Code
	MessageID  string
}

// Delivered builds a successful Outcome.
func Delivered(messageID string) Outcome {
	code := reasoncode.Success
	return Outcome{Delivered: true, ReasonCode: &code, MessageID: messageID}
}

// Rejected builds an Outcome for a publish the broker or client refused.
func Rejected(code reasoncode.Code, messageID string) Outcome {
	return Outcome{Delivered: false, ReasonCode: &code, MessageID: messageID}
}

// Hooks is the narrow surface a Transport uses to report connectivity. The
// Connection's state machine only moves in response to these calls.
type Hooks interface {
	// OnConnectAck reports the result of a connect or reconnect handshake.
	OnConnectAck(code reasoncode.Code)
	// OnDisconnect reports that an established connection was lost.
	OnDisconnect(code reasoncode.Code)
}

// Transport is a broker-protocol client. Implementations live in the
// transport package.
type Transport interface {
	// Connect fires a connect request to address. The result of the initial
	// handshake must be reported through hooks.OnConnectAck exactly once,
	// either before Connect returns or later from a transport goroutine.
	// A returned error means the request could not be issued at all.
	Connect(ctx context.Context, address string, hooks Hooks) error
	// Publish sends payload to topic and waits for the delivery
	// acknowledgment, honouring ctx's deadline.
	Publish(ctx context.Context, topic string, payload []byte) (Outcome, error)
	// Close releases the underlying client.
	Close()
}

// Recorder observes publish outcomes and state transitions.
type Recorder interface {
	PublishObserved(code reasoncode.Code)
	StateChanged(from, to State)
}

type nopRecorder struct{}

func (nopRecorder) PublishObserved(reasoncode.Code) {}
func (nopRecorder) StateChanged(State, State)       {}

var (
	// ErrConnectRejected marks a failed initial connect. It is fatal: the
	// initial connect is never retried.
	ErrConnectRejected = errors.New("initial connect rejected")
	// ErrClosed is returned by operations on a closed Connection.
	ErrClosed = errors.New("connection closed")
)

// ConnectError carries the reason code of a rejected initial connect.
type ConnectError struct {
	Address string
	Code    reasoncode.Code
	Err     error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("connect to %s rejected with code %d (%s)", e.Address, int(e.Code), e.Code.Reason())
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConnectRejected) hold for every ConnectError.
func (e *ConnectError) Is(target error) bool {
	return target == ErrConnectRejected
}
