package version

import (
	"runtime/debug"
	"testing"
)

func TestResolve(t *testing.T) {
	buildInfo := func(version string, settings ...debug.BuildSetting) func() (*debug.BuildInfo, bool) {
		return func() (*debug.BuildInfo, bool) {
			return &debug.BuildInfo{Main: debug.Module{Version: version}, Settings: settings}, true
		}
	}
	noInfo := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name string
		read func() (*debug.BuildInfo, bool)
		want string
	}{
		{"no build info", noInfo, "devel"},
		{"devel module", buildInfo("(devel)"), "devel"},
		{"tagged module", buildInfo("v0.3.1"), "v0.3.1"},
		{
			"vcs revision",
			buildInfo("v0.3.1", debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"}),
			"v0.3.1 (0123456789ab)",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolve(tc.read).String(); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}
