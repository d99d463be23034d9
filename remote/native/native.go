// Package native implements remote sessions over an in-process ssh client.
// One connection is held per node and each remote command gets its own channel.
package native

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/remote"
)

const (
	DefaultPort           = 22
	DefaultConnectTimeout = 5 * time.Second
)

// Config controls authentication and connection setup.
type Config struct {
	// User is used for nodes without a "user@" prefix. Defaults to the current user.
	User string
	Port int
	// IdentityFiles are private keys tried after any agent keys.
	IdentityFiles []string
	// AgentSocket defaults to $SSH_AUTH_SOCK.
	AgentSocket string
	// KnownHosts files used to verify host keys. Defaults to ~/.ssh/known_hosts.
	KnownHosts []string
	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool
}

// Dialer opens native ssh sessions.
type Dialer struct {
	cfg    Config
	auth   []ssh.AuthMethod
	hostCB ssh.HostKeyCallback
	// for tests
	dialConn   func(ctx context.Context, addr string) (net.Conn, error)
	newBackOff func(d time.Duration) backoff.BackOff
}

// NewDialer loads keys and known hosts once; they are shared by every Dial.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.User == "" {
		if u, err := user.Current(); err == nil {
			cfg.User = u.Username
		}
	}
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostCB, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	return &Dialer{
		cfg:        cfg,
		auth:       auth,
		hostCB:     hostCB,
		dialConn:   dialTCP,
		newBackOff: defaultBackOff,
	}, nil
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// defaultBackOff retries quickly at first and gives up once the connect window is spent.
func defaultBackOff(window time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = window
	return b
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	sock := cfg.AgentSocket
	if sock == "" {
		sock = os.Getenv("SSH_AUTH_SOCK")
	}
	if sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		} else {
			log.Warnf("ssh agent at %s unavailable: %v", sock, err)
		}
	}

	var signers []ssh.Signer
	for _, f := range cfg.IdentityFiles {
		data, err := ioutil.ReadFile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading identity %s", f)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing identity %s", f)
		}
		signers = append(signers, signer)
	}
	if len(signers) > 0 {
		methods = append(methods, ssh.PublicKeys(signers...))
	}
	if len(methods) == 0 {
		return nil, errors.New("no ssh agent or identity files available")
	}
	return methods, nil
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	files := cfg.KnownHosts
	if len(files) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "locating known_hosts")
		}
		files = []string{filepath.Join(home, ".ssh", "known_hosts")}
	}
	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, errors.Wrap(err, "loading known_hosts")
	}
	return cb, nil
}

func (d *Dialer) clientConfig(spec remote.Spec, timeout time.Duration) *ssh.ClientConfig {
	u := spec.Node.User()
	if u == "" {
		u = d.cfg.User
	}
	return &ssh.ClientConfig{
		User:            u,
		Auth:            d.auth,
		HostKeyCallback: d.hostCB,
		Timeout:         timeout,
	}
}

// Dial connects, retrying with backoff until the connect window closes or ctx
// is done, then creates the working directory. Host key and auth failures are
// not retried.
func (d *Dialer) Dial(ctx context.Context, spec remote.Spec) (remote.Session, error) {
	window := spec.ConnectTimeout
	if window <= 0 {
		window = DefaultConnectTimeout
	}
	addr := net.JoinHostPort(spec.Host(), strconv.Itoa(d.cfg.Port))
	cfg := d.clientConfig(spec, window)

	var client *ssh.Client
	try := 1
	err := backoff.Retry(func() error {
		log.Debugf("Dialing %s try #%d", addr, try)
		try++
		conn, err := d.dialConn(ctx, addr)
		if err != nil {
			return err
		}
		// bound the handshake too, not just the tcp connect
		conn.SetDeadline(time.Now().Add(window))
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		if err != nil {
			conn.Close()
			return backoff.Permanent(err)
		}
		conn.SetDeadline(time.Time{})
		client = ssh.NewClient(c, chans, reqs)
		return nil
	}, backoff.WithContext(d.newBackOff(window), ctx))
	if err != nil {
		if perm, ok := err.(*backoff.PermanentError); ok {
			err = perm.Err
		}
		return nil, remote.Unreachable(spec.Node, err)
	}

	s := &session{spec: spec, client: client}
	if spec.Chdir != "" {
		if _, err := s.run(ctx, remote.MkdirCommand(spec.Chdir)); err != nil {
			client.Close()
			return nil, remote.Unreachable(spec.Node, err)
		}
	}
	return s, nil
}

type session struct {
	spec      remote.Spec
	client    *ssh.Client
	closeOnce sync.Once
	closeErr  error
}

func (s *session) ID() string             { return s.spec.Host() }
func (s *session) Node() cluster.NodeName { return s.spec.Node }

// run executes script with /bin/sh on a new channel. Canceling ctx closes the channel.
func (s *session) run(ctx context.Context, script string) ([]byte, error) {
	ch, err := s.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	var stdout, stderr bytes.Buffer
	ch.Stdout = &stdout
	ch.Stderr = &stderr

	doneCh := make(chan error, 1)
	go func() {
		doneCh <- ch.Run("/bin/sh -c " + shellescape.Quote(script))
	}()
	select {
	case err = <-doneCh:
	case <-ctx.Done():
		ch.Signal(ssh.SIGKILL)
		ch.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return stdout.Bytes(), errors.Wrap(err, string(msg))
		}
		return stdout.Bytes(), err
	}
	return stdout.Bytes(), nil
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

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}
