package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"github.com/AbdullahRaoo/magicqc-op-sub001/internal/entity"
	"github.com/AbdullahRaoo/magicqc-op-sub001/pkg/log"
	"github.com/sirupsen/logrus"
)

// Process is a launched worker as the supervisor sees it.
type Process interface {
	PID() int
	// Terminate asks the worker to finish its tick and exit.
	Terminate() error
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 means killed by a signal.
	ExitCode() int
}

type LaunchSpec struct {
	Kind entity.WorkerKind
	Path string
	Args []string
	Dir  string
	Env  []string
}

type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// ExecLauncher starts workers as child processes. The child's stdin stays
// open for its whole life and closing it is the stop request that works on
// every platform; stderr is re-logged by the host.
type ExecLauncher struct {
	log *logrus.Logger
}

func NewExecLauncher(log *logrus.Logger) *ExecLauncher {
	return &ExecLauncher{log: log}
}

func (l *ExecLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	p := &execProcess{
		cmd:      cmd,
		stdin:    stdin,
		done:     make(chan struct{}),
		exitCode: -1,
	}

	l.log.WithFields(log.Fields{
		"kind": spec.Kind,
		"pid":  cmd.Process.Pid,
		"dir":  spec.Dir,
		"args": strings.Join(spec.Args, " "),
	}).Info("Worker process launched")

	go p.wait(l.log, spec.Kind, stderr)
	return p, nil
}

type execProcess struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	stdinOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *execProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

func (p *execProcess) Terminate() error {
	p.closeStdin()

	// SIGTERM is not deliverable on Windows; the closed stdin covers it.
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) Kill() error {
	p.closeStdin()
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (p *execProcess) closeStdin() {
	p.stdinOnce.Do(func() {
		_ = p.stdin.Close()
	})
}

// wait drains stderr into the host log and then reaps the process.
func (p *execProcess) wait(logger *logrus.Logger, kind entity.WorkerKind, stderr io.Reader) {
	entry := logger.WithFields(log.Fields{"kind": kind, "pid": p.PID(), "source": "worker"})

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERRO]"), strings.Contains(line, "[FATA]"), strings.Contains(line, "[PANI]"):
			entry.Error(line)
		case strings.Contains(line, "[WARN]"):
			entry.Warn(line)
		default:
			entry.Debug(line)
		}
	}

	err := p.cmd.Wait()
	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.exitCode = code
	p.mu.Unlock()

	fields := log.Fields{"exit_code": code}
	if err != nil {
		fields["error"] = err.Error()
	}
	entry.WithFields(fields).Info("Worker process exited")

	close(p.done)
}
