// Package topology describes the workers a plan produces and how they are
// rendered as execnet style transport specs.
package topology

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/twitter/nodeplan/cloud/cluster"
)

// Layout selects how workers past the first on a node are reached.
type Layout int

const (
	// LayoutRemote gives every worker its own ssh connection.
	LayoutRemote Layout = iota
	// LayoutVia gives only worker 0 an ssh connection; the rest are spawned
	// on the node through it.
	LayoutVia
)

func (l Layout) String() string {
	switch l {
	case LayoutRemote:
		return "remote"
	case LayoutVia:
		return "via"
	}
	return fmt.Sprintf("Layout(%d)", int(l))
}

// ParseLayout accepts the names produced by Layout.String.
func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "", "remote":
		return LayoutRemote, nil
	case "via":
		return LayoutVia, nil
	}
	return LayoutRemote, errors.Errorf("unknown layout %q, expected remote or via", s)
}

// Worker is one execution slot on a node.
type Worker struct {
	Node   cluster.NodeName `json:"node" yaml:"node"`
	Host   string           `json:"host" yaml:"host"`
	Index  int              `json:"index" yaml:"index"`
	Chdir  string           `json:"chdir" yaml:"chdir"`
	Python string           `json:"python" yaml:"python"`
	// Via is the id of the worker this one is spawned through, empty for direct ssh workers.
	Via string `json:"via,omitempty" yaml:"via,omitempty"`
}

// ID is "<host>_<index>", unique within a topology.
func (w Worker) ID() string {
	return fmt.Sprintf("%s_%d", w.Host, w.Index)
}

// Spec renders the worker as a transport spec:
//
//	ssh=<node>//id=<host>_<index>//chdir=<dir>//python=<python>
//	popen//id=<host>_<index>//via=<host>_0//chdir=<dir>//python=<python>
func (w Worker) Spec() string {
	var b strings.Builder
	if w.Via != "" {
		b.WriteString("popen//id=" + w.ID() + "//via=" + w.Via)
	} else {
		b.WriteString("ssh=" + string(w.Node) + "//id=" + w.ID())
	}
	if w.Chdir != "" {
		b.WriteString("//chdir=" + w.Chdir)
	}
	if w.Python != "" {
		b.WriteString("//python=" + w.Python)
	}
	return b.String()
}

// ParseSpec parses a transport spec back into workers. A leading "N*" repeats
// the worker spec N times with consecutive indices starting at the parsed one.
func ParseSpec(spec string) ([]Worker, error) {
	count := 1
	if i := strings.Index(spec, "*"); i > 0 && !strings.Contains(spec[:i], "=") {
		n, err := strconv.Atoi(spec[:i])
		if err != nil || n < 1 {
			return nil, errors.Errorf("bad count prefix in %q", spec)
		}
		count = n
		spec = spec[i+1:]
	}

	var w Worker
	var popen bool
	var id string
	for _, part := range strings.Split(spec, "//") {
		key, val := part, ""
		if i := strings.Index(part, "="); i >= 0 {
			key, val = part[:i], part[i+1:]
		}
		switch key {
		case "ssh":
			w.Node = cluster.NodeName(val)
		case "popen":
			popen = true
		case "id":
			id = val
		case "via":
			w.Via = val
		case "chdir":
			w.Chdir = val
		case "python":
			w.Python = val
		default:
			return nil, errors.Errorf("unknown key %q in spec %q", key, spec)
		}
	}
	if w.Node == "" && !popen {
		return nil, errors.Errorf("spec %q has neither ssh= nor popen", spec)
	}
	if popen && w.Via == "" {
		return nil, errors.Errorf("popen spec %q has no via", spec)
	}

	w.Host = w.Node.Host()
	if id != "" {
		sep := strings.LastIndex(id, "_")
		idx, err := strconv.Atoi(id[sep+1:])
		if sep < 0 || err != nil {
			// ids without an index suffix are the whole host
			w.Host = id
		} else {
			w.Host, w.Index = id[:sep], idx
		}
	}
	if popen {
		if w.Node == "" {
			if sep := strings.LastIndex(w.Via, "_"); sep > 0 {
				w.Node = cluster.NodeName(w.Via[:sep])
			}
		}
		if w.Host == "" {
			w.Host = w.Node.Host()
		}
	}

	out := make([]Worker, count)
	for i := range out {
		out[i] = w
		out[i].Index = w.Index + i
	}
	return out, nil
}

// Topology is the ordered list of workers: node input order, then index order.
type Topology []Worker

// Specs renders every worker's transport spec in order.
func (t Topology) Specs() []string {
	out := make([]string, len(t))
	for i, w := range t {
		out[i] = w.Spec()
	}
	return out
}

// Nodes returns each node appearing in t once, in order.
func (t Topology) Nodes() []cluster.NodeName {
	var out []cluster.NodeName
	seen := map[cluster.NodeName]bool{}
	for _, w := range t {
		if !seen[w.Node] {
			seen[w.Node] = true
			out = append(out, w.Node)
		}
	}
	return out
}

// CountByNode returns how many workers each node got.
func (t Topology) CountByNode() map[cluster.NodeName]int {
	out := map[cluster.NodeName]int{}
	for _, w := range t {
		out[w.Node]++
	}
	return out
}

// ParseSpecs parses many specs into one topology.
func ParseSpecs(specs []string) (Topology, error) {
	var t Topology
	for _, s := range specs {
		ws, err := ParseSpec(s)
		if err != nil {
			return nil, err
		}
		t = append(t, ws...)
	}
	return t, nil
}
