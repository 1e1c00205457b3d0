package config

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOOM_DATA_DIR", dir)

	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if got != dir {
		t.Fatalf("DataDir = %q, want %q", got, dir)
	}
}

func TestDerivedPathsLiveUnderDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LOOM_DATA_DIR", dir)

	cases := []struct {
		name string
		fn   func() (string, error)
		tail string
	}{
		{name: "sessions", fn: SessionsDir, tail: "sessions"},
		{name: "token", fn: TokenPath, tail: "token"},
		{name: "db", fn: DBPath, tail: "loom.db"},
		{name: "config", fn: CoreConfigPath, tail: "config.toml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn()
			if err != nil {
				t.Fatalf("%s: %v", tc.name, err)
			}
			if !strings.HasPrefix(got, dir) {
				t.Fatalf("%s = %q, not under %q", tc.name, got, dir)
			}
			if filepath.Base(got) != tc.tail {
				t.Fatalf("%s = %q, want basename %q", tc.name, got, tc.tail)
			}
		})
	}
}

func TestDataDirDefaultsToHome(t *testing.T) {
	t.Setenv("LOOM_DATA_DIR", "")
	t.Setenv("HOME", t.TempDir())

	got, err := DataDir()
	if err != nil {
		t.Fatalf("DataDir: %v", err)
	}
	if filepath.Base(got) != ".loom" {
		t.Fatalf("DataDir = %q, want .loom under home", got)
	}
}
