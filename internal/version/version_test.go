package version

import "testing"

func TestCurrentFillsDefaults(t *testing.T) {
	oldV, oldC, oldR := Version, Commit, SourceRepo
	t.Cleanup(func() { Version, Commit, SourceRepo = oldV, oldC, oldR })

	Version, Commit, SourceRepo = "  ", "", ""
	info := Current()
	if info.Version != "dev" || info.Commit != "unknown" || info.SourceRepo != defaultSourceRepo {
		t.Fatalf("unexpected defaults: %+v", info)
	}

	Version = " 1.4.0 "
	if got := UserAgent("cli"); got != "devforum-cli/1.4.0" {
		t.Fatalf("UserAgent = %q", got)
	}
}
