// Package remote defines sessions to remote nodes: how they are opened, what
// can be asked of them, and how a set of them is torn down together.
package remote

//go:generate mockgen -destination=mocks/remote.go -package=mocks github.com/twitter/nodeplan/remote Session,Dialer

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/nodeplan/cloud/cluster"
)

// ErrUnreachable marks a node that could not be connected to within the probe window.
var ErrUnreachable = errors.New("node unreachable")

// ErrActivation marks a failed remote environment activation.
var ErrActivation = errors.New("environment activation failed")

// Spec describes how to open a session to one node.
type Spec struct {
	Node  cluster.NodeName
	Chdir string
	// Python is the interpreter name or path used on the node.
	Python string
	// ConnectTimeout bounds transport level connection setup. Zero means the transport default.
	ConnectTimeout time.Duration
}

// Host is the host portion of the node name, used as the session id.
func (s Spec) Host() string {
	return s.Node.Host()
}

func (s Spec) String() string {
	return fmt.Sprintf("%s (chdir=%s python=%s)", s.Node, s.Chdir, s.Python)
}

// Session is an open channel to one node. A session is owned by whoever dialed
// it until it is handed to a Group.
type Session interface {
	// ID is the host portion of the node name.
	ID() string

	// Node is the raw node name the session was opened for.
	Node() cluster.NodeName

	// Capabilities asks the node for its CPU and memory figures.
	Capabilities(ctx context.Context) (CapabilityReport, error)

	// Activate prepares the virtual environment described by a on the node.
	Activate(ctx context.Context, a Activation) error

	// Close releases the session. It is safe to call more than once.
	Close() error
}

// Dialer opens sessions. Dial should honor ctx cancellation but callers
// may also abandon a dial that outlives its deadline.
type Dialer interface {
	Dial(ctx context.Context, spec Spec) (Session, error)
}

// Unreachable wraps err so that errors.Cause or errors.Is finds ErrUnreachable.
func Unreachable(node cluster.NodeName, err error) error {
	return &unreachableError{node: node, err: err}
}

type unreachableError struct {
	node cluster.NodeName
	err  error
}

func (e *unreachableError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %v", e.node, ErrUnreachable)
	}
	return fmt.Sprintf("%s: %v: %v", e.node, ErrUnreachable, e.err)
}

func (e *unreachableError) Cause() error  { return ErrUnreachable }
func (e *unreachableError) Unwrap() error { return ErrUnreachable }

// Reason returns the underlying transport error, if any.
func (e *unreachableError) Reason() error { return e.err }

// IsUnreachable reports whether err was produced by Unreachable.
func IsUnreachable(err error) bool {
	return errors.Cause(err) == ErrUnreachable
}
