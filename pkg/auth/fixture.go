package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/authstate/pkg/state"
)

// StatePath returns the state file for profile. A relative statesDir is
// resolved against the working directory, as a test suite would see it.
func StatePath(statesDir, profile string) (string, error) {
	if statesDir == "" {
		statesDir = state.DefaultStatesDir
	}
	if !filepath.IsAbs(statesDir) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		statesDir = filepath.Join(cwd, statesDir)
	}
	return state.StatePath(statesDir, profile)
}

// RequireState returns the state file for profile, or an error telling the
// caller how to create it when it is missing or not valid JSON.
func RequireState(statesDir, profile string) (string, error) {
	path, err := StatePath(statesDir, profile)
	if err != nil {
		return "", err
	}

	if _, err := state.ReadJSON(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("Missing auth state for profile %q at %q. Run: authstate setup --profile %s (or authstate ensure).",
				profile, path, profile)
		}
		return "", fmt.Errorf("Invalid auth state JSON for profile %q at %q: %w", profile, path, err)
	}
	return path, nil
}
