package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// rename is swapped in tests to simulate a failing final rename.
var rename = os.Rename

// WriteFileAtomic replaces path with contents so that readers observe either
// the previous content or the new content, never a partial file.
//
// The new content is written to a uniquely named temp file next to the
// target. An existing target is moved aside to a uniquely named backup
// before the temp file is renamed into place; if that final rename fails the
// backup is restored. Temp and backup files are removed on every exit path.
func WriteFileAtomic(path string, contents []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	base := filepath.Base(path)
	suffix := fmt.Sprintf("%d-%s", os.Getpid(), uuid.NewString())
	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%s", base, suffix))
	backupPath := filepath.Join(dir, fmt.Sprintf(".%s.bak-%s", base, suffix))

	defer func() {
		// Both removals are best-effort: after a successful rename the temp
		// file no longer exists, and after a restore neither does the backup.
		_ = os.Remove(tempPath)
		_ = os.Remove(backupPath)
	}()

	if err := writeTemp(tempPath, contents); err != nil {
		return err
	}

	hadBackup := false
	if _, statErr := os.Lstat(path); statErr == nil {
		if err := rename(path, backupPath); err != nil {
			return fmt.Errorf("failed to move %s aside: %w", path, err)
		}
		hadBackup = true
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("failed to stat %s: %w", path, statErr)
	}

	if err := rename(tempPath, path); err != nil {
		if hadBackup {
			if restoreErr := os.Rename(backupPath, path); restoreErr != nil {
				return fmt.Errorf("failed to replace %s: %w (restore failed: %v)", path, err, restoreErr)
			}
		}
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

func writeTemp(tempPath string, contents []byte) error {
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := file.Write(contents); err != nil {
		file.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	return nil
}

// ReadJSON reads and parses the JSON document at path. Parse errors name the
// file but never echo its content, which may hold session secrets.
func ReadJSON(path string) (any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON in state file %q: %s", path, describeJSONError(err))
	}
	return doc, nil
}

// describeJSONError keeps the position of a syntax error and drops anything
// that could quote the input.
func describeJSONError(err error) string {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("syntax error at offset %d", syntaxErr.Offset)
	}
	return "not a valid JSON document"
}
