package native

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/twitter/nodeplan/remote"
)

type execHandler func(cmd string) (stdout string, status uint32)

// testServer is a minimal ssh server answering "exec" requests with handler.
type testServer struct {
	ln       net.Listener
	host     ssh.Signer
	handler  execHandler
	commands chan string
}

func newSigner(t *testing.T) ssh.Signer {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

func startServer(t *testing.T, handler execHandler) *testServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &testServer{ln: ln, host: newSigner(t), handler: handler, commands: make(chan string, 16)}
	go s.accept()
	return s
}

func (s *testServer) accept() {
	cfg := &ssh.ServerConfig{
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) { return nil, nil },
	}
	cfg.AddHostKey(s.host)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serve(conn, cfg)
	}
}

func (s *testServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "")
			continue
		}
		ch, chReqs, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			for req := range chReqs {
				if req.Type != "exec" {
					req.Reply(false, nil)
					continue
				}
				var payload struct{ Command string }
				ssh.Unmarshal(req.Payload, &payload)
				req.Reply(true, nil)
				s.commands <- payload.Command
				out, status := s.handler(payload.Command)
				ch.Write([]byte(out))
				ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
				ch.Close()
				return
			}
		}()
	}
}

func (s *testServer) dialer(t *testing.T) *Dialer {
	return &Dialer{
		cfg:    Config{User: "ci", Port: DefaultPort},
		auth:   []ssh.AuthMethod{ssh.PublicKeys(newSigner(t))},
		hostCB: ssh.FixedHostKey(s.host.PublicKey()),
		dialConn: func(ctx context.Context, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", s.ln.Addr().String())
		},
		newBackOff: defaultBackOff,
	}
}

func capableHandler(cmd string) (string, uint32) {
	switch {
	case strings.Contains(cmd, "getconf"):
		return `{"cpu_count": 2, "virtual_memory": {"available": 512, "total": 1024}}`, 0
	case strings.Contains(cmd, "pip install"):
		return "", 1
	}
	return "", 0
}

func TestDialAndQuery(t *testing.T) {
	srv := startServer(t, capableHandler)
	defer srv.ln.Close()

	s, err := srv.dialer(t).Dial(context.Background(), remote.Spec{Node: "ci@w1", Chdir: "/tmp/w", Python: "python3"})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "w1", s.ID())
	assert.Equal(t, "/bin/sh -c 'mkdir -p /tmp/w'", <-srv.commands)

	r, err := s.Capabilities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, remote.CapabilityReport{CPUCount: 2, AvailableMemory: 512, TotalMemory: 1024}, r)
	<-srv.commands

	err = s.Activate(context.Background(), remote.Activation{Path: ".env"})
	assert.Equal(t, remote.ErrActivation, pkgerrors.Cause(err))

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestDialWrongHostKey(t *testing.T) {
	srv := startServer(t, capableHandler)
	defer srv.ln.Close()

	d := srv.dialer(t)
	d.hostCB = ssh.FixedHostKey(newSigner(t).PublicKey())
	attempts := int32(0)
	dial := d.dialConn
	d.dialConn = func(ctx context.Context, addr string) (net.Conn, error) {
		atomic.AddInt32(&attempts, 1)
		return dial(ctx, addr)
	}

	_, err := d.Dial(context.Background(), remote.Spec{Node: "w1", ConnectTimeout: 2 * time.Second})
	require.Error(t, err)
	assert.True(t, remote.IsUnreachable(err))
	// handshake failures are permanent
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDialRetriesUntilWindowCloses(t *testing.T) {
	d := &Dialer{
		cfg: Config{Port: DefaultPort},
		dialConn: func(context.Context, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
		newBackOff: func(time.Duration) backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		},
	}
	_, err := d.Dial(context.Background(), remote.Spec{Node: "w1"})
	require.Error(t, err)
	assert.True(t, remote.IsUnreachable(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestDialCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Dialer{
		cfg: Config{Port: DefaultPort},
		dialConn: func(ctx context.Context, _ string) (net.Conn, error) {
			return nil, ctx.Err()
		},
		newBackOff: defaultBackOff,
	}
	_, err := d.Dial(ctx, remote.Spec{Node: "w1"})
	assert.True(t, remote.IsUnreachable(err))
}

func TestNewDialerRequiresAuth(t *testing.T) {
	_, err := NewDialer(Config{AgentSocket: "/nonexistent/agent.sock", InsecureIgnoreHostKey: true})
	assert.Error(t, err)
}
