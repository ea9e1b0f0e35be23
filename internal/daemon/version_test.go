package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeStamp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli_version")
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	return path
}

func TestVersionMismatchAdvisory(t *testing.T) {
	cases := []struct {
		name    string
		running string
		stamp   string
		want    bool
	}{
		{"installed newer", "1.0.10", "1.0.11", true},
		{"same release", "1.0.10", "1.0.10", false},
		{"dev build of same release", "1.0.10", "1.0.10.dev0+gABC.d20260101", false},
		{"installed older", "1.0.11", "1.0.10", false},
		{"major bump", "1.0.10", "2.0.0", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ResolveVersionInfo(tc.running, writeStamp(t, tc.stamp))
			require.Equal(t, tc.running, info.Running)
			require.Equal(t, tc.stamp, info.Installed)
			require.Equal(t, tc.want, info.UpdateAvailable)
		})
	}
}

func TestResolveVersionInfoMissingStamp(t *testing.T) {
	info := ResolveVersionInfo("1.0.10", filepath.Join(t.TempDir(), "absent"))
	require.Equal(t, "1.0.10", info.Running)
	require.Empty(t, info.Installed)
	require.False(t, info.UpdateAvailable)
}

func TestCompareBaseReleases(t *testing.T) {
	require.Equal(t, 1, CompareBaseReleases("1.2.0", "1.1.9"))
	require.Equal(t, -1, CompareBaseReleases("1.1.9", "1.2.0"))
	require.Equal(t, 0, CompareBaseReleases("v1.2.0", "1.2.0"))
	require.Equal(t, 0, CompareBaseReleases("1.2.0.dev1+g123", "1.2.0"))
	require.Equal(t, 1, CompareBaseReleases("1.2.0.1", "1.2.0"))
}
