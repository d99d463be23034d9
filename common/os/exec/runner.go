package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	CmdSeparator = "--------------------------------------------------------------"
)

var (
	TimeoutError  = errors.New("command timeout")
	CanceledError = errors.New("command canceled")
)

// RunResult encapsulates a return from RunCommand. It is largely a summary of fields
// available from os/exec.Cmd structs, plus the full contents of stdout and stderr for analysis.
type RunResult struct {
	// ProcessState contains information about an exited process.
	// A command that fails to start or run may have a nil ProcessState.
	ProcessState *os.ProcessState

	Stdout []byte
	Stderr []byte

	// Error contains any error from Start() or Wait(), or TimeoutError/CanceledError.
	Error error
}

func (rr RunResult) String() string {
	return fmt.Sprintf("Error:%s, Stdout:%s, Stderr:%s", rr.Error, rr.Stdout, rr.Stderr)
}

// StderrTail returns at most the last n lines of stderr, for error messages.
func (rr RunResult) StderrTail(n int) string {
	lines := strings.Split(strings.TrimRight(string(rr.Stderr), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

func truncateCmd(cmd Cmd) string {
	args := cmd.Args()
	if len(args) > 0 {
		args[0] = filepath.Base(args[0])
	}
	return strings.Join(args, " ")
}

// RunCommand execs the given Cmd and returns the resulting ProcessState and stdout/stderr contents.
// Combined output is also streamed to streamLog as the Cmd executes.
// The command runs in its own process group. If ctx is done, or timeout > 0 elapses first,
// the whole group gets SIGTERM and then SIGKILL after killTimeout.
func RunCommand(
	ctx context.Context,
	cmd Cmd,
	killTimeout time.Duration,
	streamLog io.Writer,
	timeout time.Duration,
) RunResult {
	rr := RunResult{}
	if streamLog == nil {
		streamLog = ioutil.Discard
	}

	var outBuf, errBuf bytes.Buffer
	syncLog := &syncWriter{w: streamLog}
	cmd.SetStdout(io.MultiWriter(&outBuf, syncLog))
	cmd.SetStderr(io.MultiWriter(&errBuf, syncLog))
	cmd.SetProcessGroup(true)

	doneCh := make(chan struct{})

	log.Debugf("Running Command: %s", cmd.String())
	syncLog.Write([]byte(fmt.Sprintf("\n%s\nRunning Command: %s\n", CmdSeparator, truncateCmd(cmd))))
	cmdErr := cmd.Start()
	if cmdErr != nil {
		rr.Error = cmdErr
		rr.Stdout = outBuf.Bytes()
		rr.Stderr = errBuf.Bytes()
		return rr
	}

	go func() {
		cmdErr = cmd.Wait()
		close(doneCh)
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-doneCh:
		syncLog.Write([]byte(fmt.Sprintf("\nExited - ExitCode: %d\n%s\n", cmd.ProcessState().ExitCode(), CmdSeparator)))
	case <-timeoutCh:
		log.Infof("command timed out %v. Killing command", timeout)
		termThenKill(cmd.Process(), killTimeout, doneCh)
		// must still wait for cmd.Wait()
		<-doneCh
		syncLog.Write([]byte(fmt.Sprintf("\nTimeout after %v\n%s\n", timeout, CmdSeparator)))
		cmdErr = TimeoutError
	case <-ctx.Done():
		log.Info("Context done, terminating command")
		termThenKill(cmd.Process(), killTimeout, doneCh)
		<-doneCh
		syncLog.Write([]byte(fmt.Sprintf("\nTerminated: %v\n%s\n", ctx.Err(), CmdSeparator)))
		cmdErr = CanceledError
	}

	rr.ProcessState = cmd.ProcessState()
	rr.Stdout = outBuf.Bytes()
	rr.Stderr = errBuf.Bytes()
	rr.Error = cmdErr
	return rr
}

// termThenKill will SIGTERM a process group, then SIGKILL it if it hasn't exited after duration d.
// waitDoneCh must be closed by the caller when the process exits (to avoid double Wait()ing)
func termThenKill(p *os.Process, d time.Duration, waitDoneCh <-chan struct{}) error {
	if p == nil {
		return nil
	}
	log.Debug("Sending SIGTERM to process group")
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		log.Errorf("Failed to send SIGTERM to process group %d: %s", p.Pid, err)
		return err
	}

	select {
	case <-waitDoneCh:
	case <-time.After(d):
		log.Info("Command hasn't exited, sending SIGKILL")
		if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
			log.Errorf("Failed to SIGKILL process group %d: %s", p.Pid, err)
			return err
		}
	}
	return nil
}

// syncWriter is an io.Writer wrapper around another io.Writer that supports safe concurrent Writes.
// RunCommand needs to use this to safely write both stdout and stderr to streamLog.
type syncWriter struct {
	w  io.Writer
	mu sync.Mutex
}

func (b *syncWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w.Write(p)
}
