package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
	"gopkg.in/yaml.v3"

	"github.com/twitter/nodeplan/topology"
)

var topo = topology.Topology{
	{Node: "u@h1", Host: "h1", Index: 0, Chdir: "/w", Python: "python3"},
	{Node: "u@h1", Host: "h1", Index: 1, Chdir: "/w", Python: "python3"},
}

func TestTextSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Text(&buf).Publish(context.Background(), "r1", topo))
	assert.Equal(t,
		"ssh=u@h1//id=h1_0//chdir=/w//python=python3\nssh=u@h1//id=h1_1//chdir=/w//python=python3\n",
		buf.String())
}

func TestJSONSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf).Publish(context.Background(), "r1", topo))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "r1", doc.RunID)
	assert.Equal(t, []topology.Worker(topo), doc.Workers)
	assert.Equal(t, topo.Specs(), doc.Specs)
}

func TestJSONSinkEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, JSON(&buf).Publish(context.Background(), "r1", nil))
	assert.Contains(t, buf.String(), `"workers": []`)
}

func TestYAMLSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, YAML(&buf).Publish(context.Background(), "r1", topo))

	var doc Document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "r1", doc.RunID)
	assert.Equal(t, []topology.Worker(topo), doc.Workers)
}

func TestXdistSink(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Xdist(&buf).Publish(context.Background(), "r1", topo[:1]))
	assert.Equal(t, "--dist=load --tx ssh=u@h1//id=h1_0//chdir=/w//python=python3\n", buf.String())
}

func TestForFormat(t *testing.T) {
	var buf bytes.Buffer
	s, err := ForFormat("TEXT", &buf)
	require.NoError(t, err)
	require.NoError(t, s.Publish(context.Background(), "r", topo[:1]))
	assert.NotEmpty(t, buf.String())

	_, err = ForFormat("xml", &buf)
	assert.Error(t, err)
	assert.Equal(t, []string{"json", "text", "xdist", "yaml"}, Formats())
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	require.NoError(t, Multi(Text(&a), Text(&b)).Publish(context.Background(), "r", topo))
	assert.Equal(t, a.String(), b.String())
}

type put struct {
	key, val string
	opts     int
}

type fakeKV struct {
	puts []put
	err  error
}

func (f *fakeKV) Put(_ context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, put{key, val, len(opts)})
	return &clientv3.PutResponse{}, nil
}

type fakeLease struct{ ttls []int64 }

func (f *fakeLease) Grant(_ context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error) {
	f.ttls = append(f.ttls, ttl)
	return &clientv3.LeaseGrantResponse{ID: 42, TTL: ttl}, nil
}

func TestEtcdSink(t *testing.T) {
	kv := &fakeKV{}
	s := newEtcdSink(kv, nil, "", 0)
	assert.Equal(t, "/nodeplan/topology/r1", s.Key("r1"))
	require.NoError(t, s.Publish(context.Background(), "r1", topo))

	require.Len(t, kv.puts, 2)
	assert.Equal(t, "/nodeplan/topology/r1", kv.puts[0].key)
	var doc Document
	require.NoError(t, json.Unmarshal([]byte(kv.puts[0].val), &doc))
	assert.Equal(t, topo.Specs(), doc.Specs)
	assert.Equal(t, put{"/nodeplan/topology/latest", "r1", 0}, kv.puts[1])
	assert.NoError(t, s.Close())
}

func TestEtcdSinkLease(t *testing.T) {
	kv := &fakeKV{}
	lease := &fakeLease{}
	s := newEtcdSink(kv, lease, "/ci/plans", time.Hour)
	require.NoError(t, s.Publish(context.Background(), "r2", topo))

	assert.Equal(t, []int64{3600}, lease.ttls)
	assert.Equal(t, "/ci/plans/r2", kv.puts[0].key)
	assert.Equal(t, 1, kv.puts[0].opts)
	assert.Equal(t, 1, kv.puts[1].opts)
}

func TestEtcdSinkError(t *testing.T) {
	s := newEtcdSink(&fakeKV{err: errors.New("etcdserver: request timed out")}, nil, "", 0)
	err := s.Publish(context.Background(), "r3", topo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request timed out")
}
