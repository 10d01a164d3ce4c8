package runner

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
)

const (
	scanBufSize   = 64 * 1024
	maxStdoutLine = 16 * 1024 * 1024 // yt-dlp -J emits multi-MB single-line JSON
	maxStderrLine = 1024 * 1024
)

// Process wraps an exec.Cmd for a long-running external binary. Stdout lines
// of the form "out_time_us=N" (ffmpeg -progress pipe:1) feed the progress
// counter; stderr lines are buffered and optionally streamed to a callback.
type Process struct {
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	progressUs int64 // atomic
	done       chan struct{}
	err        error

	mu        sync.Mutex
	stdoutBuf bytes.Buffer
	stderrBuf bytes.Buffer
	onStderr  func(string)
}

// NewProcess creates a process but does not start it. Cancelling ctx kills
// the running binary. The binary runs in its own process group and
// cancellation kills the whole group: children it spawns (yt-dlp forks
// ffmpeg) must not survive holding the pipes open.
func NewProcess(ctx context.Context, name string, args ...string) *Process {
	ctx2, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx2, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	return &Process{
		cmd:    cmd,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Dir sets the working directory. Must be called before Start.
func (p *Process) Dir(dir string) {
	p.cmd.Dir = dir
}

// OnStderrLine registers a per-line stderr callback. Must be called before
// Start.
func (p *Process) OnStderrLine(fn func(string)) {
	p.onStderr = fn
}

// Start launches the binary and begins pipe consumption.
func (p *Process) Start() error {
	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		p.cancel()
		return err
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		p.cancel()
		return err
	}
	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, scanBufSize), maxStdoutLine)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "out_time_us=") {
				if us, perr := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64); perr == nil {
					atomic.StoreInt64(&p.progressUs, us)
				}
				continue
			}
			p.mu.Lock()
			p.stdoutBuf.WriteString(line)
			p.stdoutBuf.WriteByte('\n')
			p.mu.Unlock()
		}
		p.drain(scanner.Err(), stdout, &p.stdoutBuf)
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, scanBufSize), maxStderrLine)
		for scanner.Scan() {
			line := scanner.Text()
			p.mu.Lock()
			p.stderrBuf.WriteString(line)
			p.stderrBuf.WriteByte('\n')
			p.mu.Unlock()
			if p.onStderr != nil {
				p.onStderr(line)
			}
		}
		p.drain(scanner.Err(), stderr, &p.stderrBuf)
	}()

	go func() {
		wg.Wait()
		p.err = p.cmd.Wait()
		p.cancel()
		close(p.done)
	}()

	return nil
}

// drain handles a scanner that stopped early, typically on a line over the
// size cap. The rest of the pipe must still be consumed: an unread pipe
// fills up, the child blocks writing into it and never exits.
func (p *Process) drain(scanErr error, pipe io.Reader, buf *bytes.Buffer) {
	if scanErr == nil {
		return
	}
	p.mu.Lock()
	buf.WriteString("[output truncated: " + scanErr.Error() + "]\n")
	p.mu.Unlock()
	io.Copy(io.Discard, pipe)
}

// Stop kills the running binary and its process group.
func (p *Process) Stop() {
	p.cancel()
}

// Wait blocks until the binary exits.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Done is closed when the binary exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Progress returns the encoded media time in seconds.
func (p *Process) Progress() float64 {
	us := atomic.LoadInt64(&p.progressUs)
	if us <= 0 {
		return 0
	}
	return float64(us) / 1e6
}

// ExitCode returns the exit code, or -1 if the process has not exited
// normally.
func (p *Process) ExitCode() int {
	if p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Stdout returns non-progress stdout captured so far.
func (p *Process) Stdout() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.stdoutBuf.Bytes()...)
}

// Stderr returns stderr captured so far.
func (p *Process) Stderr() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.stderrBuf.Bytes()...)
}
