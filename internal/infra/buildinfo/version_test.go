package buildinfo

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()

	if info.Version == "" || info.Commit == "" || info.BuildTime == "" {
		t.Errorf("Get() left fields empty: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
}

func TestGet_LdflagsWin(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldTime })

	Version, Commit, BuildTime = "v1.2.3", "abc123", "2026-01-01T00:00:00Z"
	info := Get()
	if info.Version != "v1.2.3" || info.Commit != "abc123" || info.BuildTime != "2026-01-01T00:00:00Z" {
		t.Errorf("Get() = %+v", info)
	}
}

func TestFromSettings(t *testing.T) {
	tests := []struct {
		name     string
		start    Info
		settings []debug.BuildSetting
		want     Info
	}{
		{
			name: "fills blanks",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-02-03T04:05:06Z"},
				{Key: "vcs.modified", Value: "true"},
			},
			want: Info{Commit: "0123456789ab", BuildTime: "2026-02-03T04:05:06Z", Modified: true},
		},
		{
			name:     "keeps injected values",
			start:    Info{Commit: "abc", BuildTime: "then"},
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "zzz"}, {Key: "vcs.time", Value: "now"}},
			want:     Info{Commit: "abc", BuildTime: "then"},
		},
		{
			name:     "ignores unrelated keys",
			settings: []debug.BuildSetting{{Key: "GOOS", Value: "linux"}},
			want:     Info{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start
			fromSettings(&got, tt.settings)
			if got != tt.want {
				t.Errorf("fromSettings() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	s := String()
	info := Get()
	if !strings.HasPrefix(s, info.Version+" (") {
		t.Errorf("String() = %q", s)
	}
	if !strings.HasSuffix(s, " with "+info.GoVersion) {
		t.Errorf("String() = %q, want Go version suffix", s)
	}
}
