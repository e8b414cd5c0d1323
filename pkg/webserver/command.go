package webserver

import (
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

var shellChars = regexp.MustCompile("[\\s\"'`]")

// needsShell reports whether command looks like a command line rather than
// a bare executable, e.g. `npm run dev`.
func needsShell(command string) bool {
	return shellChars.MatchString(strings.TrimSpace(command))
}

// buildCommand prepares the child process. Output is inherited.
func buildCommand(spec Spec) *exec.Cmd {
	cmd := platformCommand(spec)
	cmd.Dir = spec.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	setProcessGroup(cmd)
	return cmd
}

// mergeEnv appends extra to base, replacing existing keys.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, override := extra[key]; override {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
