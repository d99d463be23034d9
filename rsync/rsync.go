// Package rsync pushes the local working tree to many nodes at once by
// running one rsync per node under GNU parallel.
package rsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/common/os/exec"
	"github.com/twitter/nodeplan/os/temp"
)

var (
	// ErrParallelNotFound means GNU parallel is not on PATH. Nothing was launched.
	ErrParallelNotFound = errors.New("parallel is not found")
	// ErrSyncFailed means the parallel run failed to start or exited non-zero.
	ErrSyncFailed = errors.New("rsync failed")
)

const DefaultKillTimeout = 5 * time.Second

// Options configure a Syncer.
type Options struct {
	// SourceDir is the local directory sent. Include and exclude paths are made relative to it.
	SourceDir string
	// TargetDir is the directory on each node.
	TargetDir string
	// Includes and Excludes are local paths; those outside SourceDir are dropped.
	Includes []string
	Excludes []string
	// Jobs caps concurrent rsyncs; zero means one per target.
	Jobs int
	// BandwidthLimit is passed to rsync --bwlimit when positive.
	BandwidthLimit int
	Verbose        bool
	// StreamLog receives parallel's combined output as it runs.
	StreamLog io.Writer
}

// Syncer collects targets and sends the source tree to all of them in one run.
type Syncer struct {
	exec exec.OsExec
	opts Options

	mu      sync.Mutex
	targets []cluster.NodeName
	seen    map[cluster.NodeName]bool
}

func NewSyncer(e exec.OsExec, opts Options) *Syncer {
	return &Syncer{exec: e, opts: opts, seen: map[cluster.NodeName]bool{}}
}

// AddTarget registers a node. Repeats are ignored. Safe for concurrent use.
func (s *Syncer) AddTarget(node cluster.NodeName) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[node] {
		return
	}
	s.seen[node] = true
	s.targets = append(s.targets, node)
}

// Targets returns the registered nodes in registration order.
func (s *Syncer) Targets() []cluster.NodeName {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cluster.NodeName(nil), s.targets...)
}

// HasTarget reports whether node was registered.
func (s *Syncer) HasTarget(node cluster.NodeName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[node]
}

// relativePaths makes each path relative to base, skipping those outside it.
func relativePaths(base string, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(base, p)
		}
		rel, err := filepath.Rel(base, filepath.Clean(abs))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			log.Debugf("Skipping %s: not under %s", p, base)
			continue
		}
		out = append(out, rel)
	}
	return out
}

// rsyncTemplate is the per-target command parallel runs; {} is the target.
// parallel hands it to a shell, so paths are quoted.
func (s *Syncer) rsyncTemplate(includesPath, excludesPath string) string {
	verbose := ""
	if s.opts.Verbose {
		verbose = "v"
	}
	bwlimit := ""
	if s.opts.BandwidthLimit > 0 {
		bwlimit = fmt.Sprintf("--bwlimit=%d ", s.opts.BandwidthLimit)
	}
	return fmt.Sprintf("rsync -arHAXx%s %s--ignore-errors --include-from=%s --exclude-from=%s "+
		"--numeric-ids --force --inplace --delete-excluded --delete "+
		"-e \"ssh -T -o Compression=no -x\" . {}:%s",
		verbose, bwlimit, shellescape.Quote(includesPath), shellescape.Quote(excludesPath),
		shellescape.Quote(s.opts.TargetDir))
}

// Args builds the full parallel argv for the given targets and list files.
func (s *Syncer) args(targets []cluster.NodeName, includesPath, excludesPath string) []string {
	jobs := s.opts.Jobs
	if jobs <= 0 {
		jobs = len(targets)
	}
	var args []string
	if s.opts.Verbose {
		args = append(args, "--verbose")
	}
	args = append(args, "--gnu", fmt.Sprintf("--jobs=%d", jobs), s.rsyncTemplate(includesPath, excludesPath), ":::")
	for _, t := range targets {
		args = append(args, string(t))
	}
	return args
}

// Send runs one parallel invocation covering every target. No targets is a no-op.
func (s *Syncer) Send(ctx context.Context) error {
	targets := s.Targets()
	if len(targets) == 0 {
		log.Info("No rsync targets, skipping sync")
		return nil
	}
	parallel, err := s.exec.LookPath("parallel")
	if err != nil {
		return errors.Wrap(ErrParallelNotFound, err.Error())
	}

	source := s.opts.SourceDir
	if source == "" {
		if source, err = os.Getwd(); err != nil {
			return errors.Wrap(err, "resolving source directory")
		}
	}
	source, err = filepath.Abs(source)
	if err != nil {
		return errors.Wrap(err, "resolving source directory")
	}

	includesPath, cleanIncludes, err := temp.WriteLines("", "nodeplan-rsync-include-", relativePaths(source, s.opts.Includes))
	defer cleanIncludes()
	if err != nil {
		return errors.Wrap(err, "writing rsync include list")
	}
	excludesPath, cleanExcludes, err := temp.WriteLines("", "nodeplan-rsync-exclude-", relativePaths(source, s.opts.Excludes))
	defer cleanExcludes()
	if err != nil {
		return errors.Wrap(err, "writing rsync exclude list")
	}

	cmd := s.exec.Command(parallel, s.args(targets, includesPath, excludesPath)...)
	cmd.SetDir(source)
	log.Infof("Syncing %s to %d nodes: %s", source, len(targets), cluster.Join(targets))
	rr := exec.RunCommand(ctx, cmd, DefaultKillTimeout, s.opts.StreamLog, 0)
	if rr.Error != nil {
		return errors.Wrapf(ErrSyncFailed, "%v: %s", rr.Error, rr.StderrTail(10))
	}
	log.Infof("Synced %d nodes", len(targets))
	return nil
}
