// Package sink publishes a planned topology: to a writer in one of several
// formats, or to etcd for schedulers that discover their workers there.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/twitter/nodeplan/topology"
	"github.com/twitter/nodeplan/xdist"
)

// Sink receives the final topology of a run.
type Sink interface {
	Publish(ctx context.Context, runID string, t topology.Topology) error
}

// Document is the structured form written by the json, yaml and etcd sinks.
type Document struct {
	RunID   string            `json:"run_id" yaml:"run_id"`
	Workers []topology.Worker `json:"workers" yaml:"workers"`
	Specs   []string          `json:"specs" yaml:"specs"`
}

func NewDocument(runID string, t topology.Topology) Document {
	workers := []topology.Worker(t)
	if workers == nil {
		workers = []topology.Worker{}
	}
	return Document{RunID: runID, Workers: workers, Specs: t.Specs()}
}

type textSink struct{ w io.Writer }

// Text writes one transport spec per line.
func Text(w io.Writer) Sink { return &textSink{w} }

func (s *textSink) Publish(_ context.Context, _ string, t topology.Topology) error {
	for _, spec := range t.Specs() {
		if _, err := fmt.Fprintln(s.w, spec); err != nil {
			return err
		}
	}
	return nil
}

type jsonSink struct{ w io.Writer }

// JSON writes an indented Document.
func JSON(w io.Writer) Sink { return &jsonSink{w} }

func (s *jsonSink) Publish(_ context.Context, runID string, t topology.Topology) error {
	enc := json.NewEncoder(s.w)
	enc.SetIndent("", "  ")
	return enc.Encode(NewDocument(runID, t))
}

type yamlSink struct{ w io.Writer }

// YAML writes a Document as YAML.
func YAML(w io.Writer) Sink { return &yamlSink{w} }

func (s *yamlSink) Publish(_ context.Context, runID string, t topology.Topology) error {
	enc := yaml.NewEncoder(s.w)
	enc.SetIndent(2)
	if err := enc.Encode(NewDocument(runID, t)); err != nil {
		return err
	}
	return enc.Close()
}

type xdistSink struct{ w io.Writer }

// Xdist writes the scheduler arguments on one line, shell quoted.
func Xdist(w io.Writer) Sink { return &xdistSink{w} }

func (s *xdistSink) Publish(_ context.Context, _ string, t topology.Topology) error {
	_, err := fmt.Fprintln(s.w, quoteArgs(xdist.Args(t)))
	return err
}

// Multi publishes to every sink in order, stopping at the first error.
func Multi(sinks ...Sink) Sink { return multiSink(sinks) }

type multiSink []Sink

func (m multiSink) Publish(ctx context.Context, runID string, t topology.Topology) error {
	for _, s := range m {
		if err := s.Publish(ctx, runID, t); err != nil {
			return err
		}
	}
	return nil
}

var writerSinks = map[string]func(io.Writer) Sink{
	"text":  Text,
	"json":  JSON,
	"yaml":  YAML,
	"xdist": Xdist,
}

// ForFormat returns the writer sink registered under name.
func ForFormat(name string, w io.Writer) (Sink, error) {
	mk, ok := writerSinks[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown output format %q, expected one of %s", name, strings.Join(Formats(), ", "))
	}
	return mk(w), nil
}

// Formats lists the writer sink names.
func Formats() []string {
	var out []string
	for k := range writerSinks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
