package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/guardrail/internal/version"
)

// setVersion overrides the package-level version variables for one test.
func setVersion(t *testing.T, v, commit, date string) {
	t.Helper()
	orig, origC, origD := version.Version, version.Commit, version.Date
	t.Cleanup(func() {
		version.Version = orig
		version.Commit = origC
		version.Date = origD
	})
	version.Version = v
	version.Commit = commit
	version.Date = date
}

func TestVersionCmd_Output(t *testing.T) {
	setVersion(t, "test", "abc123", "2025-01-01")

	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version command returned error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"test", "abc123", "2025-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q; got:\n%s", want, out)
		}
	}
}

func TestVersionInfo_Format(t *testing.T) {
	setVersion(t, "v1.2.3", "deadbeef", "2026-01-15")

	info := version.Info()

	if !strings.HasPrefix(info, "gr version v1.2.3\n") {
		t.Errorf("Info() first line wrong; got: %q", info)
	}
	if !strings.Contains(info, "commit: deadbeef") {
		t.Errorf("Info() missing commit line; got: %q", info)
	}
	if !strings.Contains(info, "built: 2026-01-15") {
		t.Errorf("Info() missing built line; got: %q", info)
	}
}

func TestVersionUserAgent(t *testing.T) {
	setVersion(t, "v0.4.0", "none", "unknown")

	if got := version.UserAgent(); got != "guardrail/v0.4.0" {
		t.Errorf("UserAgent() = %q; want guardrail/v0.4.0", got)
	}
}
