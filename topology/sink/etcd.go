package sink

import (
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/twitter/nodeplan/topology"
)

// DefaultEtcdPrefix is where topologies are stored, one key per run id.
const DefaultEtcdPrefix = "/nodeplan/topology/"

// LatestKey, under the prefix, holds the most recently published run id.
const LatestKey = "latest"

// KV is the subset of clientv3.KV used by the etcd sink.
type KV interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
}

// Leaser is the subset of clientv3.Lease used to expire published keys.
type Leaser interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
}

// EtcdOptions configure an etcd sink.
type EtcdOptions struct {
	Endpoints   []string
	DialTimeout time.Duration
	Prefix      string
	// TTL expires the published keys; zero keeps them forever.
	TTL time.Duration
}

// EtcdSink publishes topologies to etcd.
type EtcdSink struct {
	kv     KV
	lease  Leaser
	prefix string
	ttl    time.Duration
	closer func() error
}

// NewEtcd connects to etcd. Call Close on the returned sink when done.
func NewEtcd(opts EtcdOptions) (*EtcdSink, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "connecting to etcd")
	}
	s := newEtcdSink(cli, cli, opts.Prefix, opts.TTL)
	s.closer = cli.Close
	return s, nil
}

func newEtcdSink(kv KV, lease Leaser, prefix string, ttl time.Duration) *EtcdSink {
	if prefix == "" {
		prefix = DefaultEtcdPrefix
	}
	return &EtcdSink{kv: kv, lease: lease, prefix: prefix, ttl: ttl, closer: func() error { return nil }}
}

// Key is where runID's topology is stored.
func (s *EtcdSink) Key(runID string) string {
	return path.Join(s.prefix, runID)
}

// Publish stores the JSON Document under the run key, then points LatestKey at it.
func (s *EtcdSink) Publish(ctx context.Context, runID string, t topology.Topology) error {
	data, err := json.Marshal(NewDocument(runID, t))
	if err != nil {
		return err
	}

	var opts []clientv3.OpOption
	if s.ttl > 0 && s.lease != nil {
		grant, err := s.lease.Grant(ctx, int64(s.ttl.Seconds()))
		if err != nil {
			return errors.Wrap(err, "granting etcd lease")
		}
		opts = append(opts, clientv3.WithLease(grant.ID))
	}

	key := s.Key(runID)
	if _, err := s.kv.Put(ctx, key, string(data), opts...); err != nil {
		return errors.Wrapf(err, "putting %s", key)
	}
	if _, err := s.kv.Put(ctx, path.Join(s.prefix, LatestKey), runID, opts...); err != nil {
		return errors.Wrap(err, "updating latest run")
	}
	log.Infof("Published %d workers to etcd at %s", len(t), key)
	return nil
}

func (s *EtcdSink) Close() error {
	return s.closer()
}
