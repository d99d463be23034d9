// Package sshexec implements remote sessions by running the system ssh client,
// one subprocess per remote command, sharing a multiplexed master connection.
package sshexec

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/common/os/exec"
	"github.com/twitter/nodeplan/remote"
)

const (
	DefaultSSH            = "ssh"
	DefaultControlPersist = 60 * time.Second
	DefaultKillTimeout    = 2 * time.Second
)

// Config controls how ssh is invoked.
type Config struct {
	// SSH is the ssh executable. Defaults to DefaultSSH.
	SSH string
	// Options are extra "-o" options, e.g. "StrictHostKeyChecking=accept-new".
	Options []string
	// ControlDir, when set, enables connection multiplexing with control sockets in this directory.
	ControlDir string
	// ControlPersist is how long an idle master stays up. Defaults to DefaultControlPersist.
	ControlPersist time.Duration
	// KillTimeout is the grace between SIGTERM and SIGKILL of a canceled ssh. Defaults to DefaultKillTimeout.
	KillTimeout time.Duration
}

// Dialer opens sshexec sessions.
type Dialer struct {
	exec exec.OsExec
	cfg  Config
}

// NewDialer creates a Dialer running ssh through e.
func NewDialer(e exec.OsExec, cfg Config) *Dialer {
	if cfg.SSH == "" {
		cfg.SSH = DefaultSSH
	}
	if cfg.ControlPersist <= 0 {
		cfg.ControlPersist = DefaultControlPersist
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = DefaultKillTimeout
	}
	return &Dialer{exec: e, cfg: cfg}
}

// Dial proves the node is reachable by creating the working directory there.
// A failure is reported as remote.ErrUnreachable.
func (d *Dialer) Dial(ctx context.Context, spec remote.Spec) (remote.Session, error) {
	s := &session{d: d, spec: spec}
	script := "true"
	if spec.Chdir != "" {
		script = remote.MkdirCommand(spec.Chdir)
	}
	if _, err := s.run(ctx, script); err != nil {
		return nil, remote.Unreachable(spec.Node, err)
	}
	log.Debugf("Connected to %s", spec.Node)
	return s, nil
}

// commonArgs are the ssh options shared by every invocation for spec.
func (d *Dialer) commonArgs(spec remote.Spec) []string {
	args := []string{"-T", "-o", "BatchMode=yes"}
	if spec.ConnectTimeout > 0 {
		secs := int(math.Ceil(spec.ConnectTimeout.Seconds()))
		args = append(args, "-o", fmt.Sprintf("ConnectTimeout=%d", secs))
	}
	if d.cfg.ControlDir != "" {
		args = append(args,
			"-o", "ControlMaster=auto",
			"-o", "ControlPath="+filepath.Join(d.cfg.ControlDir, "%C"),
			"-o", fmt.Sprintf("ControlPersist=%d", int(d.cfg.ControlPersist.Seconds())),
		)
	}
	for _, o := range d.cfg.Options {
		args = append(args, "-o", o)
	}
	return args
}

type session struct {
	d         *Dialer
	spec      remote.Spec
	closeOnce sync.Once
}

func (s *session) ID() string             { return s.spec.Host() }
func (s *session) Node() cluster.NodeName { return s.spec.Node }

// run executes script with /bin/sh on the node and returns stdout.
func (s *session) run(ctx context.Context, script string) ([]byte, error) {
	args := s.d.commonArgs(s.spec)
	args = append(args, string(s.spec.Node), "/bin/sh -c "+shellescape.Quote(script))
	cmd := s.d.exec.Command(s.d.cfg.SSH, args...)
	rr := exec.RunCommand(ctx, cmd, s.d.cfg.KillTimeout, nil, 0)
	if rr.Error != nil {
		if tail := rr.StderrTail(3); tail != "" {
			return rr.Stdout, errors.Wrap(rr.Error, tail)
		}
		return rr.Stdout, rr.Error
	}
	return rr.Stdout, nil
}

func (s *session) Capabilities(ctx context.Context) (remote.CapabilityReport, error) {
	out, err := s.run(ctx, remote.CapabilityScript)
	if err != nil {
		return remote.CapabilityReport{}, errors.Wrapf(err, "querying capabilities of %s", s.spec.Node)
	}
	return remote.DecodeCapabilityReport(out)
}

func (s *session) Activate(ctx context.Context, a remote.Activation) error {
	if !a.Enabled() {
		return nil
	}
	if _, err := s.run(ctx, remote.ActivationScript(s.spec.Chdir, s.spec.Python, a)); err != nil {
		return errors.Wrapf(remote.ErrActivation, "%s: %v", s.spec.Node, err)
	}
	return nil
}

// Close stops the multiplexing master, if any. A master that is already gone is not an error.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		if s.d.cfg.ControlDir == "" {
			return
		}
		args := s.d.commonArgs(s.spec)
		args = append(args, "-O", "exit", string(s.spec.Node))
		cmd := s.d.exec.Command(s.d.cfg.SSH, args...)
		rr := exec.RunCommand(context.Background(), cmd, s.d.cfg.KillTimeout, nil, 10*time.Second)
		if rr.Error != nil {
			log.Debugf("Stopping ssh master for %s: %v %s", s.spec.Node, rr.Error, rr.StderrTail(1))
		}
	})
	return nil
}
