package version

import (
	"strings"
	"testing"
)

func TestResolvePrefersLinkerValues(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version, Commit = "v1.2.3", "0123456789abcdef0123"
	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef0123" {
		t.Fatalf("info = %+v", info)
	}
	if got := String(); got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("String() = %q", got)
	}
	if !strings.HasPrefix(Producer(), "ganport v1.2.3") {
		t.Fatalf("Producer() = %q", Producer())
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })

	Version = ""
	if Resolve().Version == "" {
		t.Fatalf("empty version")
	}
}
