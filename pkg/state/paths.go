// Package state owns the on-disk layout of the auth state directory: the
// persisted per-profile state files, the cross-process lock markers and the
// failure artifact directories.
//
// Layout, relative to a resolved states directory:
//
//	<statesDir>/<profile>.json
//	<statesDir>/.locks/<profile>.lock
//	<statesDir>/.failures/<profile>/<runId>/
//
// Every path derived from a profile name goes through ValidateProfileName
// first, so a name can never escape the states directory.
package state

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultStatesDir is used when no states directory is configured.
const DefaultStatesDir = ".auth"

const (
	locksDirName    = ".locks"
	failuresDirName = ".failures"
)

// ErrInvalidProfileName is wrapped by every profile name validation failure.
var ErrInvalidProfileName = errors.New("invalid profile name")

// ValidateProfileName rejects names that cannot safely be used as a single
// file path segment.
func ValidateProfileName(profile string) error {
	if profile == "" || strings.TrimSpace(profile) != profile {
		return fmt.Errorf("%w %q", ErrInvalidProfileName, profile)
	}
	if strings.Contains(profile, "/") || strings.Contains(profile, `\`) || strings.Contains(profile, "..") {
		return fmt.Errorf("%w %q (must not contain path separators or \"..\")", ErrInvalidProfileName, profile)
	}
	return nil
}

// ResolveStatesDir returns the absolute states directory. A relative
// configured value is resolved against projectRoot.
func ResolveStatesDir(projectRoot, configured string) (string, error) {
	if configured == "" {
		configured = DefaultStatesDir
	}
	if filepath.IsAbs(configured) {
		return filepath.Clean(configured), nil
	}
	abs, err := filepath.Abs(filepath.Join(projectRoot, configured))
	if err != nil {
		return "", fmt.Errorf("failed to resolve states directory: %w", err)
	}
	return abs, nil
}

// StatePath returns <statesDir>/<profile>.json.
func StatePath(statesDir, profile string) (string, error) {
	if err := ValidateProfileName(profile); err != nil {
		return "", err
	}
	return filepath.Join(statesDir, profile+".json"), nil
}

// LockPath returns <statesDir>/.locks/<profile>.lock.
func LockPath(statesDir, profile string) (string, error) {
	if err := ValidateProfileName(profile); err != nil {
		return "", err
	}
	return filepath.Join(statesDir, locksDirName, profile+".lock"), nil
}

// FailuresDir returns <statesDir>/.failures/<profile>/<runID>.
func FailuresDir(statesDir, profile, runID string) (string, error) {
	if err := ValidateProfileName(profile); err != nil {
		return "", err
	}
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(statesDir, failuresDirName, profile, runID), nil
}
