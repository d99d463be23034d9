package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/common/stats"
	"github.com/twitter/nodeplan/remote"
	"github.com/twitter/nodeplan/remote/fake"
	"github.com/twitter/nodeplan/remote/mocks"
)

type targetRecorder struct {
	mu    sync.Mutex
	nodes []cluster.NodeName
}

func (r *targetRecorder) AddTarget(n cluster.NodeName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, n)
}

func (r *targetRecorder) Nodes() []cluster.NodeName {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cluster.NodeName(nil), r.nodes...)
}

func TestProbeReachable(t *testing.T) {
	d := fake.NewDialer().Set("u@h1", fake.Capable(2, mb))
	group := remote.NewGroup()
	targets := &targetRecorder{}
	p := NewProber(Config{Chdir: "/w", Python: "py"}, d, group, targets, nil)

	s, err := p.Probe(context.Background(), "u@h1")
	require.NoError(t, err)
	assert.Equal(t, "h1", s.ID())
	assert.Equal(t, 1, group.Len())
	assert.Equal(t, []cluster.NodeName{"u@h1"}, targets.Nodes())

	spec := d.Sessions()[0].Spec()
	assert.Equal(t, "/w", spec.Chdir)
	assert.Equal(t, "py", spec.Python)
	assert.Equal(t, DefaultProbeTimeout, spec.ConnectTimeout)
}

func TestProbeDialError(t *testing.T) {
	d := fake.NewDialer().Set("h1", fake.Node{DialErr: errors.New("connection refused")})
	group := remote.NewGroup()
	targets := &targetRecorder{}
	p := NewProber(Config{}, d, group, targets, nil)

	s, err := p.Probe(context.Background(), "h1")
	assert.Nil(t, s)
	assert.True(t, remote.IsUnreachable(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, group.Len())
	assert.Empty(t, targets.Nodes())
}

func TestProbeNilSessionIsUnreachable(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	dialer := mocks.NewMockDialer(mockCtrl)
	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).Return(nil, nil)
	group := remote.NewGroup()
	targets := &targetRecorder{}
	p := NewProber(Config{}, dialer, group, targets, nil)

	s, err := p.Probe(context.Background(), "h1")
	assert.Nil(t, s)
	assert.True(t, remote.IsUnreachable(err))
	assert.Equal(t, 0, group.Len())
	assert.Empty(t, targets.Nodes())
	assert.NoError(t, group.Close())
}

func TestProbeHardTimeoutClosesLateSession(t *testing.T) {
	d := fake.NewDialer().Set("slow", fake.Node{DialDelay: 100 * time.Millisecond, IgnoreContext: true})
	group := remote.NewGroup()
	p := NewProber(Config{ProbeTimeout: 10 * time.Millisecond}, d, group, nil, nil)

	start := time.Now()
	s, err := p.Probe(context.Background(), "slow")
	assert.Nil(t, s)
	assert.True(t, remote.IsUnreachable(err))
	assert.True(t, time.Since(start) < 90*time.Millisecond, "probe waited for the dialer")
	assert.Equal(t, 0, group.Len())

	assert.Eventually(t, func() bool {
		return len(d.Sessions()) == 1 && d.AllClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestProbeLateSessionClosedWithMock(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	closed := make(chan struct{})
	session := mocks.NewMockSession(mockCtrl)
	session.EXPECT().Close().DoAndReturn(func() error {
		close(closed)
		return nil
	})
	dialer := mocks.NewMockDialer(mockCtrl)
	dialer.EXPECT().Dial(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, spec remote.Spec) (remote.Session, error) {
			<-ctx.Done()
			return session, nil
		})

	p := NewProber(Config{ProbeTimeout: 5 * time.Millisecond}, dialer, remote.NewGroup(), nil, nil)
	_, err := p.Probe(context.Background(), "h1")
	assert.True(t, remote.IsUnreachable(err))

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("late session was never closed")
	}
}

func TestProbeRateLimitHonorsContext(t *testing.T) {
	d := fake.NewDialer().Set("h1", fake.Capable(1, mb))
	p := NewProber(Config{ProbeRate: 0.001}, d, remote.NewGroup(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Probe(ctx, "h1")
	assert.True(t, remote.IsUnreachable(err))
	assert.Empty(t, d.Dials())
}

func TestProbeAllKeepsInputOrder(t *testing.T) {
	d := fake.NewDialer().
		Set("a", fake.Node{DialDelay: 30 * time.Millisecond}).
		Set("b", fake.Node{DialDelay: 1 * time.Millisecond}).
		Set("d", fake.Node{DialDelay: 10 * time.Millisecond})
	stat := stats.NewFinagleStatsReceiver()
	p := NewProber(Config{ProbeTimeout: time.Second}, d, remote.NewGroup(), nil, stat)

	results := p.ProbeAll(context.Background(), cluster.ToNodeNames("a", "b", "c", "d"))
	require.Len(t, results, 4)
	for i, n := range []cluster.NodeName{"a", "b", "c", "d"} {
		assert.Equal(t, n, results[i].Node)
	}
	assert.True(t, results[0].Reachable())
	assert.True(t, results[1].Reachable())
	assert.False(t, results[2].Reachable())
	assert.Error(t, results[2].Err)
	assert.True(t, results[3].Reachable())

	sessions := Reachable(results)
	require.Len(t, sessions, 3)
	assert.Equal(t, []string{"a", "b", "d"}, []string{sessions[0].ID(), sessions[1].ID(), sessions[2].ID()})

	assert.Equal(t, int64(3), stat.Counter(stats.PlannerProbeOkCounter).Count())
	assert.Equal(t, int64(1), stat.Counter(stats.PlannerProbeUnreachableCounter).Count())
}
