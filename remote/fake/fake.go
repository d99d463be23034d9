// Package fake provides an in-memory remote.Dialer whose nodes behave as scripted.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/remote"
)

// Node scripts how one node answers.
type Node struct {
	// DialErr fails the dial with this error.
	DialErr error
	// DialDelay is how long a dial takes.
	DialDelay time.Duration
	// IgnoreContext makes the dial sleep for DialDelay even after ctx is done.
	IgnoreContext bool

	// Reply, when set, is decoded as the capability reply. Otherwise Report is returned.
	Reply  []byte
	Report remote.CapabilityReport
	CapErr error
	// CapDelay is how long a capability query takes; ctx cancellation ends it early.
	CapDelay time.Duration

	ActivateErr error
}

// Capable returns a Node reporting cpus and available memory.
func Capable(cpus int, available int64) Node {
	return Node{Report: remote.CapabilityReport{CPUCount: cpus, AvailableMemory: available, TotalMemory: available}}
}

// Dialer is a scripted remote.Dialer. Nodes that were never Set are unreachable.
type Dialer struct {
	mu       sync.Mutex
	nodes    map[cluster.NodeName]Node
	dials    []cluster.NodeName
	sessions []*Session
}

func NewDialer() *Dialer {
	return &Dialer{nodes: map[cluster.NodeName]Node{}}
}

// Set scripts node n.
func (d *Dialer) Set(n cluster.NodeName, node Node) *Dialer {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nodes[n] = node
	return d
}

func (d *Dialer) Dial(ctx context.Context, spec remote.Spec) (remote.Session, error) {
	d.mu.Lock()
	d.dials = append(d.dials, spec.Node)
	node, ok := d.nodes[spec.Node]
	d.mu.Unlock()

	if !ok {
		return nil, errors.Errorf("ssh: connect to host %s: No route to host", spec.Host())
	}
	if node.DialDelay > 0 {
		if node.IgnoreContext {
			time.Sleep(node.DialDelay)
		} else if err := sleep(ctx, node.DialDelay); err != nil {
			return nil, err
		}
	}
	if node.DialErr != nil {
		return nil, node.DialErr
	}

	s := &Session{spec: spec, node: node}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Dials returns every node dialed, in call order.
func (d *Dialer) Dials() []cluster.NodeName {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cluster.NodeName(nil), d.dials...)
}

// Sessions returns every session handed out.
func (d *Dialer) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

// AllClosed reports whether every session handed out has been closed.
func (d *Dialer) AllClosed() bool {
	for _, s := range d.Sessions() {
		if !s.Closed() {
			return false
		}
	}
	return true
}

// Session is an in-memory remote.Session.
type Session struct {
	spec remote.Spec
	node Node

	mu          sync.Mutex
	closes      int
	activations []remote.Activation
	queries     int
}

func (s *Session) ID() string             { return s.spec.Host() }
func (s *Session) Node() cluster.NodeName { return s.spec.Node }
func (s *Session) Spec() remote.Spec      { return s.spec }

func (s *Session) Capabilities(ctx context.Context) (remote.CapabilityReport, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()

	if s.node.CapDelay > 0 {
		if err := sleep(ctx, s.node.CapDelay); err != nil {
			return remote.CapabilityReport{}, err
		}
	}
	if s.node.CapErr != nil {
		return remote.CapabilityReport{}, s.node.CapErr
	}
	if s.node.Reply != nil {
		return remote.DecodeCapabilityReport(s.node.Reply)
	}
	return s.node.Report, nil
}

func (s *Session) Activate(ctx context.Context, a remote.Activation) error {
	s.mu.Lock()
	s.activations = append(s.activations, a)
	s.mu.Unlock()
	return s.node.ActivateErr
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes > 0
}

func (s *Session) Activations() []remote.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]remote.Activation(nil), s.activations...)
}

func (s *Session) Queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
