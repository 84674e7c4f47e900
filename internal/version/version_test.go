package version

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withVars(t *testing.T, v, commit, built string) {
	t.Helper()
	oldV, oldC, oldB := Version, GitCommit, BuildTime
	Version, GitCommit, BuildTime = v, commit, built
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldV, oldC, oldB })
}

func TestGetBuildInfo(t *testing.T) {
	withVars(t, "v1.2.3", "0123456789abcdef", "2024-05-06T07:08:09Z")

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.3", info.Version)
	assert.Equal(t, "0123456789abcdef", info.GitCommit)
	assert.Equal(t, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC), info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	assert.Equal(t, "v1.2.3 (0123456)", GetShortVersion())
	assert.True(t, IsRelease())
	assert.Contains(t, GetDetailedVersion(), "Commit: 0123456789abcdef")
	assert.Contains(t, GetDetailedVersion(), "Built: 2024-05-06T07:08:09Z")
}

func TestGetShortVersion_Dev(t *testing.T) {
	withVars(t, "dev", "fedcba9876543210", "unknown")

	v := GetShortVersion()
	if GetVersion() == "dev" {
		assert.Equal(t, "dev-fedcba9", v)
	}
	assert.False(t, IsRelease() && GetVersion() == "dev")
	assert.True(t, GetBuildInfo().BuildTime.IsZero())
}

func TestParseBuildTime(t *testing.T) {
	tests := []struct {
		in       string
		expected time.Time
	}{
		{"", time.Time{}},
		{"unknown", time.Time{}},
		{"garbage", time.Time{}},
		{"2024-01-02T03:04:05Z", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		assert.True(t, tt.expected.Equal(parseBuildTime(tt.in)), tt.in)
	}
}
