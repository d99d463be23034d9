// Package exec provides interfaces around os/exec that support injecting fake
// exec functionality, plus utilities for running bounded, killable commands.
package exec

import (
	"io"
	"os"
	osexec "os/exec"
	"syscall"
)

type (
	// OsExec provides an interface around os/exec.Command and os/exec.LookPath to
	// support injecting fake exec functionality
	OsExec interface {
		// Command creates a Cmd with the path to the command to run 'cmd' and
		// the command arguments set. If name contains no path separators, the path
		// is resolved with LookPath when the command is started.
		Command(cmd string, args ...string) Cmd

		// LookPath searches for an executable named file in the directories named
		// by the PATH environment variable.
		LookPath(file string) (string, error)
	}

	// we provide an adaptor for Cmd on this struct
	defaultOsExec struct{}

	// Cmd wraps the os/exec.Cmd struct with our own interface
	Cmd interface {
		// Path returns the path to the executable to run
		Path() string

		// Args returns a copy of the arguments given to the executable.
		Args() []string

		// Output runs the command and returns its standard output.
		Output() ([]byte, error)

		// Run starts the specified command and waits for it to complete.
		//
		// If the command fails to run or doesn't complete successfully, the
		// error is of type ExitError. Other error types may be
		// returned for I/O problems.
		Run() error

		// Start starts the specified command but does not wait for it to complete.
		Start() error

		// Wait waits for the command to exit. It must have been started by Start.
		Wait() error

		// SetProcessGroup places the child in its own process group so that it and
		// everything it spawns can be signalled together.
		SetProcessGroup(enable bool)

		SetStdin(io.Reader)
		SetStdout(io.Writer)
		SetStderr(io.Writer)

		// String returns a human-readable description of c. It is intended only for debugging.
		String() string

		// Process returns the underlying os.Process object once the command has
		// been started, and nil if it has not been started
		Process() *os.Process

		// ProcessState returns the underlying ProcessState once the process has
		// exited and nil if it has not
		ProcessState() *os.ProcessState

		// GetDir returns the underlying working directory of the command
		GetDir() string

		// SetDir sets the underlying working directory of the command
		SetDir(string)
	}

	// ExitError provides our own interface around process termination to allow for
	// mocking in tests.
	//
	//   err := NewOsExec().Command("false").Run()
	//   if exitErr, ok := err.(ExitError); ok {
	//     /* we have an exit error here, so we can call methods on it */
	//   }
	ExitError interface {
		// Exited reports if the process has exited by calling the libc exit() function.
		Exited() bool

		// ExitStatus returns the numerical exit status code from the process if Exited() is true.
		// If Exited returns false, this function will return -1
		ExitStatus() int

		// Signaled returns true if the process died because of an untrapped signal
		Signaled() bool

		Error() string

		// Args contains the args from the Cmd that returned this error
		Args() []string
	}

	// adapter to the Cmd interface for the exec.Cmd struct
	cmdAdapter struct {
		cmd *osexec.Cmd
	}

	// exitErrorAdapter wraps an os/exec.ExitError and provides access to the
	// exit status.
	exitErrorAdapter struct {
		err  *osexec.ExitError
		ws   syscall.WaitStatus
		args []string
	}
)

// implements assertions
var (
	_ ExitError = &exitErrorAdapter{}
	_ Cmd       = &cmdAdapter{}
)

// NewOsExec creates a default OsExec instance
func NewOsExec() OsExec {
	return &defaultOsExec{}
}

func (d *defaultOsExec) Command(cmd string, args ...string) Cmd {
	return &cmdAdapter{cmd: osexec.Command(cmd, args...)}
}

func (d *defaultOsExec) LookPath(file string) (string, error) {
	return osexec.LookPath(file)
}

func wrapExitError(cmd Cmd, err error) error {
	if err == nil {
		return nil
	}

	if ex, ok := err.(*osexec.ExitError); ok {
		if ws, ok := ex.Sys().(syscall.WaitStatus); ok {
			return &exitErrorAdapter{
				err:  ex,
				ws:   ws,
				args: cmd.Args(),
			}
		}
	}
	return err
}

func (e *exitErrorAdapter) Exited() bool    { return e.ws.Exited() }
func (e *exitErrorAdapter) ExitStatus() int { return e.ws.ExitStatus() }
func (e *exitErrorAdapter) Signaled() bool  { return e.ws.Signaled() }
func (e *exitErrorAdapter) Error() string   { return e.err.Error() }
func (e *exitErrorAdapter) Args() []string  { return e.args }

func (c *cmdAdapter) Output() ([]byte, error) {
	bytes, err := c.cmd.Output()
	if err != nil {
		return bytes, wrapExitError(c, err)
	}
	return bytes, nil
}

func (c *cmdAdapter) SetProcessGroup(enable bool) {
	if c.cmd.SysProcAttr == nil {
		c.cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	c.cmd.SysProcAttr.Setpgid = enable
}

func (c *cmdAdapter) Run() error   { return wrapExitError(c, c.cmd.Run()) }
func (c *cmdAdapter) Start() error { return c.cmd.Start() }
func (c *cmdAdapter) Wait() error  { return wrapExitError(c, c.cmd.Wait()) }

func (c *cmdAdapter) Path() string                   { return c.cmd.Path }
func (c *cmdAdapter) SetStdin(r io.Reader)           { c.cmd.Stdin = r }
func (c *cmdAdapter) SetStdout(w io.Writer)          { c.cmd.Stdout = w }
func (c *cmdAdapter) SetStderr(w io.Writer)          { c.cmd.Stderr = w }
func (c *cmdAdapter) String() string                 { return c.cmd.String() }
func (c *cmdAdapter) Process() *os.Process           { return c.cmd.Process }
func (c *cmdAdapter) ProcessState() *os.ProcessState { return c.cmd.ProcessState }
func (c *cmdAdapter) GetDir() string                 { return c.cmd.Dir }
func (c *cmdAdapter) SetDir(dir string)              { c.cmd.Dir = dir }

func (c *cmdAdapter) Args() []string {
	// return a copy of the Args slice to prevent direct modification by the user
	return append([]string(nil), c.cmd.Args...)
}
