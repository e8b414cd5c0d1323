//go:build windows

package webserver

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

func platformCommand(spec Spec) *exec.Cmd {
	useShell := needsShell(spec.Command)
	command := spec.Command
	if !useShell {
		if resolved, err := exec.LookPath(command); err == nil {
			command = resolved
		}
		// Batch files only run reliably through cmd.exe.
		ext := strings.ToLower(filepath.Ext(command))
		if ext == ".cmd" || ext == ".bat" {
			parts := []string{quoteCmdArg(command)}
			for _, arg := range spec.Args {
				parts = append(parts, quoteCmdArg(arg))
			}
			return shellCommand(strings.Join(parts, " "))
		}
		return exec.Command(command, spec.Args...)
	}
	line := command
	for _, arg := range spec.Args {
		line += " " + quoteCmdArg(arg)
	}
	return shellCommand(line)
}

func shellCommand(line string) *exec.Cmd {
	cmd := exec.Command("cmd.exe")
	cmd.SysProcAttr = &syscall.SysProcAttr{CmdLine: `cmd.exe /d /s /c "` + line + `"`}
	return cmd
}

func quoteCmdArg(value string) string {
	if value == "" {
		return `""`
	}
	if !strings.ContainsAny(value, " \t\"") {
		return value
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
	cmd.SysProcAttr.CreationFlags |= windows.CREATE_NEW_PROCESS_GROUP
}

func interruptTree(pid int) error {
	return taskkill(2*time.Second, "/PID", strconv.Itoa(pid), "/T")
}

func killTree(pid int) error {
	return taskkill(5*time.Second, "/PID", strconv.Itoa(pid), "/T", "/F")
}

func taskkill(timeout time.Duration, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "taskkill", args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return cmd.Run()
}
