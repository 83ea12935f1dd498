package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Command describes the engine process to launch.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the environment of the bridge process.
	Env []string
}

type Result struct {
	ExitCode int
	TimeMS   int64
}

// Supervisor launches engine processes.
type Supervisor struct {
	Log *zap.SugaredLogger
}

func NewSupervisor(log *zap.SugaredLogger) *Supervisor {
	return &Supervisor{Log: log.Named("supervisor")}
}

// Launch starts the command with stdin and stdout connected to pipes owned by the returned Handle.
// stderr is inherited from this process.
// The process is killed if ctx is canceled before it exits.
func (s *Supervisor) Launch(ctx context.Context, c Command) (*Handle, error) {
	// Pipes are created here instead of using cmd.StdoutPipe, since Wait closes those
	// as soon as the process exits, which would drop any output not yet relayed.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = os.Stderr

	start := time.Now()
	err = cmd.Start()

	// the child has its own copies of these now
	stdinR.Close()
	stdoutW.Close()

	if err != nil {
		stdinW.Close()
		stdoutR.Close()
		return nil, fmt.Errorf("starting %q: %w", c.Path, err)
	}
	s.Log.Infow("started engine", "Path", c.Path, "Args", c.Args, "PID", cmd.Process.Pid)

	h := &Handle{
		log:    s.Log.With("PID", cmd.Process.Pid),
		cmd:    cmd,
		stdin:  stdinW,
		stdout: stdoutR,
		exited: make(chan struct{}),
	}

	// wait on the process to finish and record the result
	go func() {
		err := cmd.Wait()
		h.result = Result{
			ExitCode: cmd.ProcessState.ExitCode(),
			TimeMS:   time.Since(start).Milliseconds(),
		}
		if err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				h.waitErr = err
			}
		}
		h.log.Debugw("engine exited", "ExitCode", h.result.ExitCode, "TimeMS", h.result.TimeMS)
		close(h.exited)
	}()

	// kill the process if the context is canceled
	go func() {
		select {
		case <-ctx.Done():
			h.log.Debug("context done, killing engine")
			cmd.Process.Kill()
		case <-h.exited:
		}
	}()

	return h, nil
}

// Handle is a running engine process.
// Its input and output streams can each be taken exactly once.
type Handle struct {
	log *zap.SugaredLogger
	cmd *exec.Cmd

	mut         sync.Mutex
	stdin       io.WriteCloser
	stdout      io.ReadCloser
	stdinTaken  bool
	stdoutTaken bool

	exited  chan struct{}
	result  Result
	waitErr error

	stopOnce sync.Once
}

// Stdin returns the engine's input stream, transferring ownership to the caller.
// Calling it twice is a programming error and panics.
func (h *Handle) Stdin() io.WriteCloser {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.stdinTaken {
		panic("engine stdin already taken")
	}
	h.stdinTaken = true
	return h.stdin
}

// Stdout returns the engine's output stream, transferring ownership to the caller.
// Calling it twice is a programming error and panics.
func (h *Handle) Stdout() io.ReadCloser {
	h.mut.Lock()
	defer h.mut.Unlock()
	if h.stdoutTaken {
		panic("engine stdout already taken")
	}
	h.stdoutTaken = true
	return h.stdout
}

func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Exited returns a channel that is closed once the process has exited.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// Wait waits for the process to exit.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.exited:
		res := h.result
		return &res, h.waitErr
	}
}

// Stop kills the process if it is still running, waits for it to exit,
// and closes any streams that were never taken.
func (h *Handle) Stop() (*Result, error) {
	h.stopOnce.Do(func() {
		select {
		case <-h.exited:
		default:
			err := h.cmd.Process.Kill()
			if err != nil {
				h.log.Debugf("error killing engine: %s", err)
			}
		}

		h.mut.Lock()
		if !h.stdinTaken {
			h.stdin.Close()
		}
		if !h.stdoutTaken {
			h.stdout.Close()
		}
		h.mut.Unlock()
	})
	<-h.exited
	res := h.result
	return &res, h.waitErr
}
