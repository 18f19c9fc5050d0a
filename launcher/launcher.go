package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultTimeout     = 250 * time.Millisecond
	DefaultGracePeriod = 500 * time.Millisecond

	readChunkSize  = 4096
	maxErrorOutput = 512
)

var (
	listeningLine  = regexp.MustCompile(`DevTools listening on (\S+)\r?\n`)
	listeningAtEOF = regexp.MustCompile(`DevTools listening on (\S+)\s*$`)
)

type State int

const (
	StateInitial State = iota
	StateLaunching
	StateLaunched
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLaunching:
		return "launching"
	case StateLaunched:
		return "launched"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type launchResult struct {
	url string
	err error
}

// Launcher owns one browser process.
type Launcher struct {
	log *zap.SugaredLogger

	executable  string
	args        []string
	env         []string
	timeout     time.Duration
	gracePeriod time.Duration
	userDataDir string
	stderr      io.Writer

	mut   sync.Mutex
	state State
	// waiter is non-nil until the pending Launch has been resolved.
	waiter chan launchResult
	timer  *time.Timer
	cmd    *exec.Cmd
	url    string
	// generatedDir is removed once the process exits.
	generatedDir string
	exitErr      error

	// started is closed once start has returned, with cmd published if the process runs.
	started chan struct{}
	exited  chan struct{}
}

type Option func(l *Launcher)

func WithExecutable(path string) Option {
	return func(l *Launcher) {
		l.executable = path
	}
}

// WithArgs adds arguments passed before the discovery flags.
func WithArgs(args ...string) Option {
	return func(l *Launcher) {
		l.args = append(l.args, args...)
	}
}

// WithEnv adds KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(l *Launcher) {
		l.env = append(l.env, env...)
	}
}

// WithTimeout bounds how long Launch waits for the endpoint. Zero disables the timeout.
func WithTimeout(d time.Duration) Option {
	return func(l *Launcher) {
		l.timeout = d
	}
}

// WithGracePeriod sets how long Close waits after SIGTERM before killing the process tree.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Launcher) {
		l.gracePeriod = d
	}
}

// WithUserDataDir uses dir as the profile directory instead of a generated temporary one.
func WithUserDataDir(dir string) Option {
	return func(l *Launcher) {
		l.userDataDir = dir
	}
}

// WithStderr receives all browser stderr output, including what was read during discovery.
func WithStderr(w io.Writer) Option {
	return func(l *Launcher) {
		l.stderr = w
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Launcher) {
		l.log = logger.Named("launcher").Sugar()
	}
}

func WithLogLevel(level zapcore.Level) Option {
	return func(l *Launcher) {
		l.log = l.log.WithOptions(zap.IncreaseLevel(level))
	}
}

func New(opts ...Option) *Launcher {
	l := &Launcher{
		log:         zap.NewNop().Sugar(),
		timeout:     DefaultTimeout,
		gracePeriod: DefaultGracePeriod,
		stderr:      io.Discard,
		started:     make(chan struct{}),
		exited:      make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Launcher) State() State {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.state
}

// URL returns the discovered endpoint, or "" unless the browser is running.
func (l *Launcher) URL() string {
	l.mut.Lock()
	defer l.mut.Unlock()
	if l.state != StateRunning {
		return ""
	}
	return l.url
}

// Exited is closed once the browser process has exited and been reaped.
func (l *Launcher) Exited() <-chan struct{} {
	return l.exited
}

// ExitErr returns the result of waiting on the process. It is only meaningful after Exited is closed.
func (l *Launcher) ExitErr() error {
	l.mut.Lock()
	defer l.mut.Unlock()
	return l.exitErr
}

// Launch starts the browser and blocks until it announces its endpoint URL,
// the launch timeout fires, its output ends, or ctx is done.
// Any failure leaves the launcher stopped with the process killed.
func (l *Launcher) Launch(ctx context.Context) (string, error) {
	l.mut.Lock()
	if l.state != StateInitial {
		l.mut.Unlock()
		return "", ErrAlreadyLaunched
	}
	waiter := make(chan launchResult, 1)
	l.state = StateLaunching
	l.waiter = waiter
	l.mut.Unlock()

	err := l.start()
	close(l.started)
	if err != nil {
		l.didReceiveLaunchError(err)
	}

	select {
	case res := <-waiter:
		return res.url, res.err
	case <-ctx.Done():
		// no-op if the endpoint was found concurrently, in which case the waiter holds the URL
		l.didReceiveLaunchError(ctx.Err())
		res := <-waiter
		return res.url, res.err
	}
}

func (l *Launcher) start() error {
	dir, generated, err := l.prepareUserDataDir()
	if err != nil {
		return &LaunchIOError{Err: err}
	}

	args := append(append([]string{}, l.args...),
		"--headless=new",
		"--remote-debugging-port=0",
		"--user-data-dir="+dir,
	)
	cmd := exec.Command(l.executable, args...)
	if len(l.env) > 0 {
		cmd.Env = append(os.Environ(), l.env...)
	}

	// stderr goes through our own pipe so that cmd.Wait does not wait on the reader
	pr, pw, err := os.Pipe()
	if err != nil {
		l.removeDir(generated)
		return &LaunchIOError{Err: fmt.Errorf("creating stderr pipe: %w", err)}
	}
	cmd.Stderr = pw

	l.log.Debugw("starting browser", "Executable", l.executable, "Args", args)
	err = cmd.Start()
	pw.Close()
	if err != nil {
		pr.Close()
		l.removeDir(generated)
		return &LaunchIOError{Err: fmt.Errorf("starting %s: %w", l.executable, err)}
	}

	l.mut.Lock()
	l.cmd = cmd
	l.generatedDir = generated
	if l.state == StateLaunching {
		l.state = StateLaunched
		if l.timeout > 0 {
			l.timer = time.AfterFunc(l.timeout, func() { l.didReceiveLaunchError(ErrLaunchTimeout) })
		}
	}
	stopped := l.state == StateStopped
	l.mut.Unlock()

	go l.wait(cmd)
	go l.scan(pr)

	if stopped {
		// closed or canceled while starting
		l.kill(cmd)
	}
	return nil
}

func (l *Launcher) prepareUserDataDir() (dir string, generated string, err error) {
	if l.userDataDir != "" {
		return l.userDataDir, "", nil
	}
	dir = filepath.Join(os.TempDir(), "maestro-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", fmt.Errorf("creating user data dir: %w", err)
	}
	return dir, dir, nil
}

func (l *Launcher) removeDir(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		l.log.Debugf("error removing user data dir %q: %s", dir, err)
	}
}

// scan accumulates stderr until the endpoint line is found, then keeps draining it into the stderr sink.
func (l *Launcher) scan(r *os.File) {
	defer r.Close()

	buf := make([]byte, readChunkSize)
	var output []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := l.stderr.Write(chunk); werr != nil {
				l.log.Debugf("stderr sink got write error: %s", werr)
			}
			output = append(output, chunk...)
			if m := listeningLine.FindSubmatch(output); m != nil {
				l.didLaunch(string(m[1]))
				break
			}
		}
		if err != nil {
			if m := listeningAtEOF.FindSubmatch(output); m != nil {
				l.didLaunch(string(m[1]))
				return
			}
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("output ended before the endpoint was announced: %w", err)
			}
			l.didReceiveLaunchError(&LaunchIOError{Err: err, Output: tail(output, maxErrorOutput)})
			return
		}
	}

	if _, err := io.Copy(l.stderr, r); err != nil {
		l.log.Debugf("error draining browser stderr: %s", err)
	}
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return string(b)
}

func (l *Launcher) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	l.mut.Lock()
	l.exitErr = err
	prev := l.state
	if prev == StateRunning {
		l.state = StateStopped
		l.url = ""
	}
	dir := l.generatedDir
	l.mut.Unlock()

	if prev == StateRunning {
		l.log.Errorw("browser exited unexpectedly", "PID", cmd.Process.Pid, "Error", err)
	} else {
		l.log.Debugw("browser exited", "PID", cmd.Process.Pid, "Error", err)
	}
	l.removeDir(dir)
	close(l.exited)
}

// didLaunch resolves the waiter with the endpoint. It only acts from StateLaunched.
func (l *Launcher) didLaunch(url string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	if l.state != StateLaunched {
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.state = StateRunning
	l.url = url
	l.resolve(launchResult{url: url})
	l.log.Debugw("browser is running", "URL", url)
}

// didReceiveLaunchError fails the waiter and kills the process.
// It only acts from StateLaunching or StateLaunched, so late timeouts and read errors are ignored.
func (l *Launcher) didReceiveLaunchError(err error) {
	l.mut.Lock()
	if l.state != StateLaunching && l.state != StateLaunched {
		l.mut.Unlock()
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.state = StateStopped
	l.resolve(launchResult{err: err})
	cmd := l.cmd
	l.mut.Unlock()

	l.log.Debugf("launch failed: %s", err)
	if cmd != nil {
		l.kill(cmd)
	}
}

// resolve must be called with mut held.
func (l *Launcher) resolve(res launchResult) {
	if l.waiter == nil {
		l.log.Errorw("launch waiter already resolved", "URL", res.url, "Error", res.err)
		return
	}
	l.waiter <- res
	l.waiter = nil
}

func (l *Launcher) kill(cmd *exec.Cmd) {
	if err := killTree(cmd.Process.Pid); err != nil {
		l.log.Debugf("error killing process tree of %d: %s", cmd.Process.Pid, err)
	}
}

// Close stops the browser. It sends SIGTERM, waits up to the grace period, then kills the
// whole process tree and waits for the process to be reaped.
// Closing a launcher that never launched or has already stopped is a no-op.
func (l *Launcher) Close(ctx context.Context) error {
	l.mut.Lock()
	if l.state == StateInitial || l.state == StateStopped {
		l.mut.Unlock()
		return nil
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.waiter != nil {
		l.resolve(launchResult{err: ErrClosed})
	}
	l.state = StateStopped
	l.url = ""
	cmd := l.cmd
	l.mut.Unlock()

	if cmd == nil {
		// still starting; start kills the process when it sees the stopped state
		return l.waitStarted(ctx)
	}
	return l.terminate(ctx, cmd)
}

// waitStarted waits for a concurrent start to finish and for the process it killed to exit.
func (l *Launcher) waitStarted(ctx context.Context) error {
	select {
	case <-l.started:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.mut.Lock()
	cmd := l.cmd
	l.mut.Unlock()
	if cmd == nil {
		return nil
	}
	return l.waitExited(ctx)
}

func (l *Launcher) terminate(ctx context.Context, cmd *exec.Cmd) error {
	pid := cmd.Process.Pid
	// descendants are collected up front since they are reparented once the browser exits
	tree, err := processTree(pid)
	if err != nil {
		l.log.Debugf("error listing process tree of %d: %s", pid, err)
	}

	err = cmd.Process.Signal(syscall.SIGTERM)
	switch {
	case errors.Is(err, os.ErrProcessDone):
		return l.waitExited(ctx)
	case err != nil:
		l.log.Debugf("could not send SIGTERM to %d: %s", pid, err)
	default:
		timer := time.NewTimer(l.gracePeriod)
		defer timer.Stop()
		select {
		case <-l.exited:
			l.log.Debugw("browser stopped by SIGTERM", "PID", pid)
			if len(tree) > 1 {
				if err := killProcesses(tree[1:]); err != nil {
					l.log.Debugf("error killing leftover children of %d: %s", pid, err)
				}
			}
			return nil
		case <-ctx.Done():
			l.kill(cmd)
			return ctx.Err()
		case <-timer.C:
		}
	}

	l.log.Debugw("killing browser process tree", "PID", pid)
	l.kill(cmd)
	return l.waitExited(ctx)
}

func (l *Launcher) waitExited(ctx context.Context) error {
	select {
	case <-l.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
