//go:build !windows

package webserver

import (
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

func platformCommand(spec Spec) *exec.Cmd {
	if !needsShell(spec.Command) {
		return exec.Command(spec.Command, spec.Args...)
	}
	line := spec.Command
	for _, arg := range spec.Args {
		line += " " + shellQuote(arg)
	}
	return exec.Command("sh", "-c", line)
}

// shellQuote single-quotes s for POSIX sh.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]#~!{}") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// setProcessGroup puts the child in its own process group so signals reach
// the shell and everything it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// interruptTree sends SIGINT to the child's process group.
func interruptTree(pid int) error {
	return unix.Kill(-pid, unix.SIGINT)
}

// killTree sends SIGKILL to the child's process group. ESRCH from an
// already empty group is not an error.
func killTree(pid int) error {
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return err
	}
	return nil
}
