package version

import (
	"runtime/debug"
	"testing"
)

func stubBuildInfo(t *testing.T, info *debug.BuildInfo, ok bool) {
	t.Helper()
	t.Cleanup(func() { readBuildInfo = debug.ReadBuildInfo })
	readBuildInfo = func() (*debug.BuildInfo, bool) { return info, ok }
}

func TestDeriveVersion(t *testing.T) {
	cases := []struct {
		name    string
		current string
		info    *debug.BuildInfo
		want    string
	}{
		{
			name:    "ldflags override wins",
			current: "1.2.3",
			want:    "1.2.3",
		},
		{
			name:    "module version from go install",
			current: defaultVersion,
			info:    &debug.BuildInfo{Main: debug.Module{Version: "v1.4.0"}},
			want:    "v1.4.0",
		},
		{
			name:    "devel module version is skipped",
			current: defaultVersion,
			info:    &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			want:    defaultVersion,
		},
		{
			name:    "vcs revision fallback truncates and marks dirty",
			current: defaultVersion,
			info: &debug.BuildInfo{Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abcdef1234567890"},
				{Key: "vcs.modified", Value: "true"},
			}},
			want: "devel+abcdef123456-dirty",
		},
		{
			name:    "clean short revision",
			current: defaultVersion,
			info: &debug.BuildInfo{Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc123"},
			}},
			want: "devel+abc123",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stubBuildInfo(t, tc.info, tc.info != nil)
			if got := deriveVersion(tc.current); got != tc.want {
				t.Fatalf("deriveVersion(%q) = %q, want %q", tc.current, got, tc.want)
			}
		})
	}
}

func TestDeriveVersionWithoutBuildInfo(t *testing.T) {
	stubBuildInfo(t, nil, false)
	if got := deriveVersion(defaultVersion); got != defaultVersion {
		t.Fatalf("expected default to survive missing build info, got %q", got)
	}
}
