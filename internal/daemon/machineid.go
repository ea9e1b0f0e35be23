package daemon

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// LoadOrCreateMachineID returns the stable source-machine identifier:
// configured value if set, otherwise the persisted one at path, otherwise
// a new "<hostname>-<suffix>" written to path.
func LoadOrCreateMachineID(path, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	host, err := os.Hostname()
	if err != nil {
		host = "machine"
	}
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", fmt.Errorf("daemon: generate machine id: %w", err)
	}
	id := fmt.Sprintf("%s-%s", host, hex.EncodeToString(suffix[:]))

	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("daemon: persist machine id: %w", err)
	}
	return id, nil
}
