// Package xdist adapts a topology to a pytest-xdist style scheduler command line.
package xdist

import (
	"path/filepath"
	"strings"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/topology"
)

// DistMode is the scheduling mode passed to the scheduler.
const DistMode = "load"

// Args renders t as scheduler arguments: the dist mode then one --tx per worker.
func Args(t topology.Topology) []string {
	args := []string{"--dist=" + DistMode}
	for _, spec := range t.Specs() {
		args = append(args, "--tx", spec)
	}
	return args
}

// SetupAction is what a worker still needs before it can run work.
type SetupAction int

const (
	// SetupNone: the node already has the tree from the bulk sync.
	SetupNone SetupAction = iota
	// SetupPathInsert: a local worker without chdir only needs the source dir on its import path.
	SetupPathInsert
	// SetupSync: the node was not part of the bulk sync and must be synced by the scheduler.
	SetupSync
)

func (a SetupAction) String() string {
	switch a {
	case SetupNone:
		return "none"
	case SetupPathInsert:
		return "path-insert"
	case SetupSync:
		return "sync"
	}
	return "unknown"
}

// NodeSetupHook decides per worker whether the scheduler's own per-node sync
// can be skipped because the bulk sync already covered that node.
type NodeSetupHook struct {
	// Synced reports whether the bulk sync covered node.
	Synced func(cluster.NodeName) bool
	// SourceDir is the local tree being distributed.
	SourceDir string
}

// Action returns what w needs.
func (h NodeSetupHook) Action(w topology.Worker) SetupAction {
	if w.Via != "" && w.Chdir == "" {
		return SetupPathInsert
	}
	if h.Synced != nil && h.Synced(w.Node) {
		return SetupNone
	}
	return SetupSync
}

// Args returns scheduler arguments implementing the decisions for t: an
// --rsyncdir only when some node still needs syncing, and --rootdir when a
// local worker needs the source on its path.
func (h NodeSetupHook) Args(t topology.Topology) []string {
	var needSync, needPath bool
	for _, w := range t {
		switch h.Action(w) {
		case SetupSync:
			needSync = true
		case SetupPathInsert:
			needPath = true
		}
	}
	var args []string
	if needSync {
		args = append(args, "--rsyncdir", h.SourceDir)
	}
	if needPath {
		args = append(args, "--rootdir", h.SourceDir)
	}
	return args
}

// PathRewriteHook rewrites "path::nodeid" test selectors to be relative to
// the basename of the root that contains them, so they resolve the same way
// on nodes where the tree lives at a different absolute path. No validation
// is done: arguments under no root pass through unchanged.
type PathRewriteHook struct {
	Roots []string
}

const nodeIDSep = "::"

// Rewrite returns the rewritten arguments. Options (leading '-') are left alone.
func (h PathRewriteHook) Rewrite(args []string) []string {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			out = append(out, arg)
			continue
		}
		parts := strings.Split(arg, nodeIDSep)
		if p, ok := h.relToRoot(parts[0]); ok {
			parts[0] = p
		}
		out = append(out, strings.Join(parts, nodeIDSep))
	}
	return out
}

func (h PathRewriteHook) relToRoot(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	for _, root := range h.Roots {
		root, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if abs == root {
			return filepath.Base(root) + "/", true
		}
		if strings.HasPrefix(abs, root+string(filepath.Separator)) {
			return filepath.Base(root) + "/" + filepath.ToSlash(abs[len(root)+1:]), true
		}
	}
	return "", false
}
