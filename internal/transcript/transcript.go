// Package transcript resolves an agent session's on-disk transcript path.
// Parsing the transcript itself is an external collaborator's job; the
// daemon only records the path on the session row.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
)

// searchDirs lists the per-agent transcript locations checked in order,
// relative to the user home directory.
var searchDirs = []string{
	".claude/projects",
	".cursor/transcripts",
	".config/oak/transcripts",
}

// ResolvePath looks for a transcript file named after the session id under
// the known agent transcript directories. Returns the first match, or an
// error when no agent has written one yet.
func ResolvePath(sessionID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("transcript: resolve home: %w", err)
	}

	for _, dir := range searchDirs {
		root := filepath.Join(home, dir)
		var found string
		_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			base := d.Name()
			if base == sessionID+".jsonl" || base == sessionID+".json" {
				found = path
				return filepath.SkipAll
			}
			return nil
		})
		if found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("transcript: no transcript found for session %s", sessionID)
}
