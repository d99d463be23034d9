package exec

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
)

type (
	// ValidatingExecer is an OsExec implementation that instead of running Commands,
	// validates that commands would have been run against an expected set.
	// Commands must be run one at a time.
	ValidatingExecer struct {
		vCmd    *ValidatingCmd
		missing map[string]bool
	}

	// ValidatingCmd implements Cmd. It does not actually run commands, but overrides
	// run methods such as Run(), Start() and Wait() to set internal state based on
	// what would have run, so that this can be validated against expected execs.
	ValidatingCmd struct {
		Cmd
		t                 *testing.T
		currentCmd        []string
		expectedCmdsRe    [][]string
		commandIdx        int
		fakeActions       map[int]func(cmd Cmd) error
		fakeProcessStates map[int]*os.ProcessState
		stdout, stderr    io.Writer
		doneCh            chan error
	}
)

// NewValidatingExecer returns a ValidatingExecer with a set of expected commands that will be called.
// Each expected command is a list of regexps matched against the corresponding argv entry.
func NewValidatingExecer(t *testing.T, expectedCmdsRe [][]string) *ValidatingExecer {
	return &ValidatingExecer{
		vCmd:    &ValidatingCmd{t: t, expectedCmdsRe: expectedCmdsRe, commandIdx: -1},
		missing: map[string]bool{},
	}
}

// SetFakeActions allow the test to inject fake actions.  The actions map to the expected command index.
// Actions are only performed if initial command validation against expected passes.
// Actions will override the return from Run() or Wait().
func (v *ValidatingExecer) SetFakeActions(fakeActions map[int]func(cmd Cmd) error) *ValidatingExecer {
	v.vCmd.fakeActions = fakeActions
	return v
}

// SetProcessStates allow the test to inject fake ProcessStates.  The ProcessStates map to the expected command index
func (v *ValidatingExecer) SetProcessStates(processStates map[int]*os.ProcessState) *ValidatingExecer {
	v.vCmd.fakeProcessStates = processStates
	return v
}

// SetMissing makes LookPath fail for the given executables.
func (v *ValidatingExecer) SetMissing(files ...string) *ValidatingExecer {
	for _, f := range files {
		v.missing[f] = true
	}
	return v
}

// LookPath resolves every executable to a fake absolute path unless marked missing.
func (v *ValidatingExecer) LookPath(file string) (string, error) {
	if v.missing[file] {
		return "", fmt.Errorf("exec: %q: executable file not found in $PATH", file)
	}
	if strings.HasPrefix(file, "/") {
		return file, nil
	}
	return "/usr/bin/" + file, nil
}

// GetStdout provide a visibility to the stdout writer so tests can inject actions that write
// test values to stdout
func (v *ValidatingCmd) GetStdout() io.Writer { return v.stdout }

// GetStderr provide a visibility to the stderr writer so tests can inject actions that write
// test values to stderr
func (v *ValidatingCmd) GetStderr() io.Writer { return v.stderr }

func (v *ValidatingCmd) SetStdout(w io.Writer) { v.stdout = w }
func (v *ValidatingCmd) SetStderr(w io.Writer) { v.stderr = w }

// Command initializes a ValidatingExecer's Cmd object. When run, will be validated
// such that command was one of the predefined expected commands.
func (v *ValidatingExecer) Command(cmd string, args ...string) Cmd {
	// Create a real Command mainly for interface compatibility
	v.vCmd.Cmd = NewOsExec().Command(cmd, args...)
	v.vCmd.stdout, v.vCmd.stderr = io.Discard, io.Discard

	v.vCmd.currentCmd = []string{cmd}
	v.vCmd.currentCmd = append(v.vCmd.currentCmd, args...)
	v.vCmd.doneCh = make(chan error)
	return v.vCmd
}

// run validates an exec command by comparing it with the next expected one, and executes any fake actions
func (v *ValidatingCmd) run() error {
	v.commandIdx++
	err := v.validateCmd()
	if err != nil {
		log.Error(err)
		v.doneCh <- err
		return err
	}
	if v.fakeActions != nil {
		if fn, ok := v.fakeActions[v.commandIdx]; ok {
			err = fn(v)
		}
	}
	v.doneCh <- err
	return err
}

// Start overrides Start() with validating behavior.
func (v *ValidatingCmd) Start() error {
	go v.run()
	return nil
}

// Wait overrides Wait() to return immediately.
func (v *ValidatingCmd) Wait() error {
	return <-v.doneCh
}

// Run overrides Run() with validating behavior.
func (v *ValidatingCmd) Run() error {
	v.Start()
	return v.Wait()
}

func (v *ValidatingCmd) Output() ([]byte, error) {
	var outBuf bytes.Buffer
	v.SetStdout(&outBuf)
	go v.run()
	err := <-v.doneCh
	return outBuf.Bytes(), err
}

// ProcessState override ProcessState() to return the injected ProcessState
func (v *ValidatingCmd) ProcessState() *os.ProcessState {
	if t, ok := v.fakeProcessStates[v.commandIdx]; ok {
		return t
	}
	return nil
}

// Process is always nil; nothing is ever started.
func (v *ValidatingCmd) Process() *os.Process { return nil }

// CurrentArgs returns the argv of the command most recently created.
func (v *ValidatingCmd) CurrentArgs() []string {
	return append([]string(nil), v.currentCmd...)
}

func (v *ValidatingCmd) validateCmd() error {
	if v.commandIdx >= len(v.expectedCmdsRe) {
		return fmt.Errorf("command validation failed.\n\tonly expected %d commands.\n\treceived extra command: %s\n",
			len(v.expectedCmdsRe), v.currentCmd)
	}

	commandRes := v.expectedCmdsRe[v.commandIdx]
	if len(commandRes) != len(v.currentCmd) {
		return fmt.Errorf("command validation failed.\n\tcmd index: %d\n\texpected: %d args (%s)\n\treceived: %d args (%s)\n",
			v.commandIdx, len(commandRes), strings.Join(commandRes, ","), len(v.currentCmd), strings.Join(v.currentCmd, ","))
	}
	for i, re := range commandRes {
		rec := regexp.MustCompile(re)
		if !rec.MatchString(v.currentCmd[i]) {
			return fmt.Errorf("command validation failed.\n\tcmd index: %d, entry: %d\n\texpected: %s\n\treceived: %s\n",
				v.commandIdx, i, re, v.currentCmd[i])
		}
	}
	return nil
}

// CheckAllValidated verifies that all expected commands were validated. If any commands were expected but not validated,
// will invoke Fatalf on the *testing.T supplied to ValidatingExecer (tests can `defer v.CheckAllValidated()` to use this).
func (v *ValidatingExecer) CheckAllValidated() {
	if v.vCmd.commandIdx != len(v.vCmd.expectedCmdsRe)-1 {
		v.vCmd.t.Fatalf("Number of expected commands: %d did not match validated command count: %d",
			len(v.vCmd.expectedCmdsRe), v.vCmd.commandIdx+1)
	}
}

type (
	// ScriptedExecer is a concurrency-safe OsExec whose commands never run; each
	// command's outcome is decided by the first Script whose Match returns true.
	// Every command's argv is recorded.
	ScriptedExecer struct {
		mu      sync.Mutex
		scripts []Script
		calls   [][]string
	}

	// Script decides how a matching command behaves. Stdout and Stderr are written
	// to the command's writers; Err is returned from Run/Wait.
	Script struct {
		Match  func(argv []string) bool
		Stdout string
		Stderr string
		Err    error
		// Block, if non-nil, is received from before the command completes.
		Block <-chan struct{}
	}

	scriptedCmd struct {
		Cmd
		e              *ScriptedExecer
		argv           []string
		stdout, stderr io.Writer
		doneCh         chan error
	}
)

// NewScriptedExecer creates a ScriptedExecer. Commands matching no script succeed silently.
func NewScriptedExecer(scripts ...Script) *ScriptedExecer {
	return &ScriptedExecer{scripts: scripts}
}

// ArgvContains matches commands whose joined argv contains every given substring.
func ArgvContains(subs ...string) func([]string) bool {
	return func(argv []string) bool {
		joined := strings.Join(argv, " ")
		for _, s := range subs {
			if !strings.Contains(joined, s) {
				return false
			}
		}
		return true
	}
}

func (e *ScriptedExecer) Command(cmd string, args ...string) Cmd {
	argv := append([]string{cmd}, args...)
	e.mu.Lock()
	e.calls = append(e.calls, argv)
	e.mu.Unlock()
	return &scriptedCmd{
		Cmd:    NewOsExec().Command(cmd, args...),
		e:      e,
		argv:   argv,
		stdout: io.Discard,
		stderr: io.Discard,
	}
}

func (e *ScriptedExecer) LookPath(file string) (string, error) {
	return "/usr/bin/" + file, nil
}

// Calls returns a copy of every argv seen so far.
func (e *ScriptedExecer) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]string(nil), e.calls...)
}

func (e *ScriptedExecer) script(argv []string) Script {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.scripts {
		if s.Match(argv) {
			return s
		}
	}
	return Script{}
}

func (c *scriptedCmd) SetStdout(w io.Writer) { c.stdout = w }
func (c *scriptedCmd) SetStderr(w io.Writer) { c.stderr = w }
func (c *scriptedCmd) Process() *os.Process  { return nil }
func (c *scriptedCmd) ProcessState() *os.ProcessState {
	return nil
}

func (c *scriptedCmd) Start() error {
	c.doneCh = make(chan error, 1)
	s := c.e.script(c.argv)
	go func() {
		if s.Block != nil {
			<-s.Block
		}
		io.WriteString(c.stdout, s.Stdout)
		io.WriteString(c.stderr, s.Stderr)
		c.doneCh <- s.Err
	}()
	return nil
}

func (c *scriptedCmd) Wait() error { return <-c.doneCh }

func (c *scriptedCmd) Run() error {
	c.Start()
	return c.Wait()
}

func (c *scriptedCmd) Output() ([]byte, error) {
	var outBuf bytes.Buffer
	c.SetStdout(&outBuf)
	err := c.Run()
	return outBuf.Bytes(), err
}
