package rsync

import (
	"context"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twitter/nodeplan/cloud/cluster"
	"github.com/twitter/nodeplan/common/os/exec"
)

var listFlags = regexp.MustCompile(`--include-from=(\S+) --exclude-from=(\S+)`)

func TestAddTargetOrderAndDedup(t *testing.T) {
	s := NewSyncer(exec.NewOsExec(), Options{})
	s.AddTarget("u@h2")
	s.AddTarget("h1")
	s.AddTarget("u@h2")
	assert.Equal(t, []cluster.NodeName{"u@h2", "h1"}, s.Targets())
	assert.True(t, s.HasTarget("h1"))
	assert.False(t, s.HasTarget("u@h1"))
}

func TestSendNoTargets(t *testing.T) {
	ve := exec.NewValidatingExecer(t, nil).SetMissing("parallel")
	defer ve.CheckAllValidated()
	assert.NoError(t, NewSyncer(ve, Options{}).Send(context.Background()))
}

func TestSendParallelMissing(t *testing.T) {
	ve := exec.NewValidatingExecer(t, nil).SetMissing("parallel")
	defer ve.CheckAllValidated()

	s := NewSyncer(ve, Options{TargetDir: "/tmp/w"})
	s.AddTarget("h1")
	err := s.Send(context.Background())
	assert.Equal(t, ErrParallelNotFound, pkgerrors.Cause(err))
}

func TestSendCommandLine(t *testing.T) {
	src, err := ioutil.TempDir("", "rsync-src")
	require.NoError(t, err)
	defer os.RemoveAll(src)

	var includesPath, excludesPath string
	var includes, excludes []byte
	ve := exec.NewValidatingExecer(t, [][]string{{
		"^/usr/bin/parallel$",
		"^--verbose$",
		"^--gnu$",
		"^--jobs=2$",
		`^rsync -arHAXxv --bwlimit=500 --ignore-errors --include-from=\S+ --exclude-from=\S+ ` +
			`--numeric-ids --force --inplace --delete-excluded --delete -e "ssh -T -o Compression=no -x" \. \{\}:/remote/dir$`,
		"^:::$",
		"^u@h1$",
		"^h2$",
		"^h3$",
	}}).SetFakeActions(map[int]func(exec.Cmd) error{
		0: func(cmd exec.Cmd) error {
			m := listFlags.FindStringSubmatch(cmd.Args()[4])
			includesPath, excludesPath = m[1], m[2]
			includes, _ = ioutil.ReadFile(includesPath)
			excludes, _ = ioutil.ReadFile(excludesPath)
			return nil
		},
	})
	defer ve.CheckAllValidated()

	s := NewSyncer(ve, Options{
		SourceDir:      src,
		TargetDir:      "/remote/dir",
		Includes:       []string{filepath.Join(src, "pkg"), "tests/data"},
		Excludes:       []string{filepath.Join(src, ".git"), "/elsewhere/outside", "../sibling"},
		Jobs:           2,
		BandwidthLimit: 500,
		Verbose:        true,
	})
	s.AddTarget("u@h1")
	s.AddTarget("h2")
	s.AddTarget("h3")
	require.NoError(t, s.Send(context.Background()))

	assert.Equal(t, "pkg\ntests/data\n", string(includes))
	assert.Equal(t, ".git\n", string(excludes))

	// list files are removed afterwards
	_, err = os.Stat(includesPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(excludesPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSendFailureCleansUp(t *testing.T) {
	var includesPath string
	ve := exec.NewValidatingExecer(t, [][]string{{
		"^/usr/bin/parallel$", "^--gnu$", "^--jobs=1$", `^rsync -arHAXx --ignore-errors `, "^:::$", "^h1$",
	}}).SetFakeActions(map[int]func(exec.Cmd) error{
		0: func(cmd exec.Cmd) error {
			includesPath = listFlags.FindStringSubmatch(cmd.Args()[3])[1]
			cmd.(*exec.ValidatingCmd).GetStderr().Write([]byte("rsync: connection unexpectedly closed\n"))
			return errors.New("exit status 255")
		},
	})
	defer ve.CheckAllValidated()

	s := NewSyncer(ve, Options{SourceDir: os.TempDir(), TargetDir: "/w"})
	s.AddTarget("h1")
	err := s.Send(context.Background())
	require.Error(t, err)
	assert.Equal(t, ErrSyncFailed, pkgerrors.Cause(err))
	assert.Contains(t, err.Error(), "connection unexpectedly closed")

	_, statErr := os.Stat(includesPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestTemplateQuotesPaths(t *testing.T) {
	s := NewSyncer(exec.NewOsExec(), Options{TargetDir: "/remote/my dir;touch x"})
	assert.Equal(t,
		`rsync -arHAXx --ignore-errors --include-from='/tmp/a b/inc' --exclude-from=/tmp/exc `+
			`--numeric-ids --force --inplace --delete-excluded --delete -e "ssh -T -o Compression=no -x" `+
			`. {}:'/remote/my dir;touch x'`,
		s.rsyncTemplate("/tmp/a b/inc", "/tmp/exc"))
}

func TestRelativePaths(t *testing.T) {
	assert.Equal(t,
		[]string{"a", "b/c", "."},
		relativePaths("/src", []string{"/src/a", "b/c", "/src", "/other", "/src/../x", "../up"}))
}
