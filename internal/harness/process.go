package harness

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"codedesk/internal/logging"
)

// ProcessOptions configures a harness server spawn.
type ProcessOptions struct {
	Command  string
	Args     []string
	Hostname string
	// Port 0 picks a free port before spawning.
	Port int
	// Dir is the working directory the harness serves from.
	Dir string
}

// Process is a running harness server child process.
type Process struct {
	cmd  *exec.Cmd
	host string
	port int
	done chan error
}

// StartProcess spawns "<command> [args...] serve --hostname H --port N" in
// its own process group so the whole tree can be signaled on shutdown.
func StartProcess(opts ProcessOptions) (*Process, error) {
	host := opts.Hostname
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port == 0 {
		p, err := pickFreePort(host)
		if err != nil {
			return nil, fmt.Errorf("pick harness port: %w", err)
		}
		port = p
	}

	args := append(append([]string{}, opts.Args...),
		"serve", "--hostname", host, "--port", strconv.Itoa(port))
	cmd := exec.Command(opts.Command, args...)
	cmd.Dir = opts.Dir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start harness %q: %w", opts.Command, err)
	}
	logging.Harness("spawned %s (pid %d) on %s:%d", opts.Command, cmd.Process.Pid, host, port)

	p := &Process{cmd: cmd, host: host, port: port, done: make(chan error, 1)}
	go func() { p.done <- cmd.Wait() }()
	return p, nil
}

// Hostname reports the address the server was told to bind.
func (p *Process) Hostname() string { return p.host }

// Port reports the port the server was told to bind.
func (p *Process) Port() int { return p.port }

// WaitReady polls the server until it answers or ctx expires. A process
// that exits before answering fails immediately.
func (p *Process) WaitReady(ctx context.Context, client *Client) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if client.Ping(ctx) {
			logging.Harness("harness ready on %s:%d", p.host, p.port)
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("harness not ready on %s:%d: %w", p.host, p.port, ctx.Err())
		case err := <-p.done:
			p.done <- err
			return fmt.Errorf("harness exited before becoming ready: %v", err)
		case <-ticker.C:
		}
	}
}

// Stop asks the process group to terminate and escalates to SIGKILL if it
// has not exited within timeout.
func (p *Process) Stop(timeout time.Duration) error {
	if p.cmd.Process == nil {
		return nil
	}
	pgid := -p.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signal harness: %w", err)
	}
	select {
	case <-p.done:
		logging.Harness("harness pid %d exited", p.cmd.Process.Pid)
		return nil
	case <-time.After(timeout):
		logging.HarnessWarn("harness pid %d ignored SIGTERM, killing", p.cmd.Process.Pid)
		syscall.Kill(pgid, syscall.SIGKILL)
		<-p.done
		return nil
	}
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
