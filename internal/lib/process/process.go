// Package process starts external binaries (ffmpeg) and tracks their exit.
package process

import (
	"bytes"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zanzhit/camera_dvr/internal/lib/sl"
)

// Invocation is an executable name and its argument list.
type Invocation struct {
	Name string
	Args []string
}

func (i Invocation) String() string {
	return strings.Join(append([]string{i.Name}, i.Args...), " ")
}

// Process is a started external process.
type Process interface {
	Pid() int
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err is the wait error, valid after Done is closed.
	Err() error
	// Kill asks the process and everything in its process group to
	// terminate. It does not wait for the exit.
	Kill() error
}

// Launcher starts invocations without waiting for them.
type Launcher interface {
	Start(inv Invocation) (Process, error)
}

// DefaultKillGrace is how long a terminated process group gets to exit
// before it is killed outright.
const DefaultKillGrace = 5 * time.Second

// Exec launches invocations with os/exec. Each process is placed in its own
// process group so Kill reaches anything it forked.
type Exec struct {
	log   *slog.Logger
	grace time.Duration
}

type Option func(*Exec)

// WithKillGrace sets the delay between SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(e *Exec) {
		e.grace = d
	}
}

func New(log *slog.Logger, opts ...Option) *Exec {
	e := &Exec{
		log:   log,
		grace: DefaultKillGrace,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Exec) Start(inv Invocation) (Process, error) {
	const op = "process.Start"

	log := e.log.With(
		slog.String("op", op),
		slog.String("command", inv.Name),
	)

	cmd := exec.Command(inv.Name, inv.Args...)
	setProcessGroup(cmd)
	cmd.Stderr = &lineLogger{log: log}

	if err := cmd.Start(); err != nil {
		log.Error("failed to start process", sl.Err(err))

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p := &execProcess{
		log:   log,
		cmd:   cmd,
		grace: e.grace,
		done:  make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()

		p.mu.Lock()
		p.err = err
		p.mu.Unlock()

		close(p.done)

		log.Debug("process exited", slog.Int("pid", cmd.Process.Pid), slog.Any("result", err))
	}()

	log.Debug("process started", slog.Int("pid", cmd.Process.Pid))

	return p, nil
}

type execProcess struct {
	log   *slog.Logger
	cmd   *exec.Cmd
	grace time.Duration
	done  chan struct{}

	mu  sync.Mutex
	err error

	escalate sync.Once
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.err
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := terminateGroup(p.cmd); err != nil {
		return err
	}

	p.escalate.Do(func() {
		go p.killAfterGrace()
	})

	return nil
}

// killAfterGrace sends SIGKILL to the group if it is still running once the
// grace period has passed.
func (p *execProcess) killAfterGrace() {
	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return
	case <-timer.C:
	}

	p.log.Warn("process ignored SIGTERM, killing process group", slog.Int("pid", p.cmd.Process.Pid))

	if err := killGroup(p.cmd); err != nil {
		p.log.Error("failed to kill process group", sl.Err(err))
	}
}

// lineLogger forwards a child's stderr to the debug log one line at a time.
type lineLogger struct {
	log *slog.Logger
	buf bytes.Buffer
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.buf.Write(p)

	for {
		// ffmpeg terminates progress lines with \r.
		i := bytes.IndexAny(w.buf.Bytes(), "\r\n")
		if i < 0 {
			break
		}

		line := bytes.TrimSpace(w.buf.Next(i + 1))
		if len(line) > 0 {
			w.log.Debug(string(line))
		}
	}

	return len(p), nil
}
