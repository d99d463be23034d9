// Package temp makes hierarchical temporary directories and scoped temporary files.
// The more you use this to create temporary files, the fewer places
// we need to change when we want to relocate all our tempfiles.
package temp

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
)

const NodeplanTmpDirPrefix = "nodeplan-tmp-"

// Create a new TempDir in directory dir with prefix string.
func NewTempDir(dir, prefix string) (*TempDir, error) {
	p, err := ioutil.TempDir(dir, prefix)
	if err != nil {
		return nil, err
	}
	return &TempDir{Dir: p}, nil
}

// TempDir is a temporary directory, that may live under other temporary directories.
type TempDir struct {
	Dir string
}

// Create a new directory with a fixed name (this lets us structure our temp files)
func (d *TempDir) FixedDir(name string) (*TempDir, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		return nil, fmt.Errorf("temp.TempDir.FixedDir: Invalid name %v", name)
	}
	p := path.Join(d.Dir, name)
	if err := os.MkdirAll(p, 0700); err != nil {
		return nil, err
	}
	return &TempDir{p}, nil
}

// Create a new temporary file under d
func (d *TempDir) TempFile(prefix string) (*os.File, error) {
	return ioutil.TempFile(d.Dir, prefix)
}

// Remove deletes d and everything under it.
func (d *TempDir) Remove() error {
	return os.RemoveAll(d.Dir)
}

// TempDirDefault creates a TempDir rooted in the default temp dir
func TempDirDefault() (*TempDir, error) {
	tmpDir, err := ioutil.TempDir("", NodeplanTmpDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("temp.TempDirDefault: couldn't ioutil.TempDir: %v", err)
	}
	return &TempDir{tmpDir}, err
}

// WriteLines writes one line per entry into a new temp file under dir (the default temp dir
// if dir is empty) and returns its path together with a cleanup func that removes it.
// The cleanup func is safe to call more than once and is non-nil even on error.
func WriteLines(dir, prefix string, lines []string) (string, func(), error) {
	f, err := ioutil.TempFile(dir, prefix)
	if err != nil {
		return "", func() {}, err
	}
	name := f.Name()
	cleanup := func() { os.Remove(name) }
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			f.Close()
			cleanup()
			return "", func() {}, err
		}
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return name, cleanup, nil
}
