package daemon

import (
	"os"
	"strconv"
	"strings"
)

// VersionInfo is the version block of the status payload: the running
// daemon version, the installed CLI version from the stamp file, and
// whether an update is available. Purely advisory; the daemon keeps
// operating on a mismatch.
type VersionInfo struct {
	Running         string `json:"running"`
	Installed       string `json:"installed,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
}

// ResolveVersionInfo reads the CLI version stamp file and compares base
// releases. update_available is set only when the installed base release
// is strictly greater than the running one, so a dev build of the same
// release ("1.0.10.dev0+g...") never flags an update against "1.0.10".
func ResolveVersionInfo(running, stampPath string) VersionInfo {
	info := VersionInfo{Running: running}
	data, err := os.ReadFile(stampPath)
	if err != nil {
		return info
	}
	installed := strings.TrimSpace(string(data))
	if installed == "" {
		return info
	}
	info.Installed = installed
	info.UpdateAvailable = CompareBaseReleases(installed, running) > 0
	return info
}

// WriteVersionStamp records the running version into the stamp file so a
// later CLI install can be detected as newer.
func WriteVersionStamp(stampPath, version string) error {
	return os.WriteFile(stampPath, []byte(version+"\n"), 0o644)
}

// CompareBaseReleases compares two version strings by base release only
// (numeric dotted prefix, dev/build metadata stripped): 1 when a > b, -1
// when a < b, 0 when equal.
func CompareBaseReleases(a, b string) int {
	pa, pb := baseRelease(a), baseRelease(b)
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na = pa[i]
		}
		if i < len(pb) {
			nb = pb[i]
		}
		if na != nb {
			if na > nb {
				return 1
			}
			return -1
		}
	}
	return 0
}

// baseRelease parses the leading numeric dotted components of a version
// string, stopping at the first non-numeric segment ("1.0.10.dev0+gABC"
// yields [1 0 10]).
func baseRelease(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if idx := strings.IndexAny(v, "+- "); idx >= 0 {
		v = v[:idx]
	}
	var parts []int
	for _, seg := range strings.Split(v, ".") {
		n, err := strconv.Atoi(seg)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	return parts
}
