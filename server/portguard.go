package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// bindWithConflictResolution binds addr, and on EADDRINUSE tries to evict
// the occupying process: automatically when running non-interactively (env
// flag or no TTY), after a prompt otherwise. A kiosk appliance restarting
// over a wedged predecessor is the case this exists for.
func bindWithConflictResolution(addr string, port int, nonInteractive bool, log zerolog.Logger) (net.Listener, error) {
	listener, err := net.Listen("tcp", addr)
	if err == nil {
		return listener, nil
	}
	if !isAddrInUse(err) {
		return nil, err
	}

	pid, perr := portOwner(port)
	if perr != nil {
		return nil, fmt.Errorf("port %d in use and owner unknown: %w", port, err)
	}

	interactive := !nonInteractive && isatty.IsTerminal(os.Stdin.Fd())
	if interactive && !confirmKill(pid, port) {
		return nil, fmt.Errorf("port %d in use by pid %d, not cleaned up", port, pid)
	}

	log.Warn().Int("pid", pid).Int("port", port).Msg("terminating process occupying port")
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return nil, fmt.Errorf("terminating pid %d: %w", pid, err)
	}

	// Give it a moment to release the socket.
	for i := 0; i < 10; i++ {
		time.Sleep(500 * time.Millisecond)
		if listener, err = net.Listen("tcp", addr); err == nil {
			return listener, nil
		}
	}
	return nil, fmt.Errorf("port %d still in use after cleanup: %w", port, err)
}

func isAddrInUse(err error) bool {
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		return sysErr == syscall.EADDRINUSE
	}
	return false
}

// portOwner asks lsof which PID holds the port.
func portOwner(port int) (int, error) {
	out, err := exec.Command("lsof", "-t", "-i", fmt.Sprintf(":%d", port)).Output()
	if err != nil {
		return 0, fmt.Errorf("lsof: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	pid, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("unexpected lsof output %q", line)
	}
	return pid, nil
}

func confirmKill(pid, port int) bool {
	fmt.Printf("Port %d is in use by pid %d. Terminate it? [y/N] ", port, pid)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
