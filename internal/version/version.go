package version

import "strings"

const defaultSourceRepo = "https://github.com/devforum/devforum"

// Set at build time with -ldflags "-X devforum/internal/version.Version=...".
var (
	Version    = "dev"
	Commit     = "unknown"
	BuildTime  = ""
	SourceRepo = defaultSourceRepo
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildTime  string `json:"build_time,omitempty"`
	SourceRepo string `json:"source_repo"`
}

func Current() Info {
	out := Info{
		Version:    strings.TrimSpace(Version),
		Commit:     strings.TrimSpace(Commit),
		BuildTime:  strings.TrimSpace(BuildTime),
		SourceRepo: strings.TrimSpace(SourceRepo),
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	if out.SourceRepo == "" {
		out.SourceRepo = defaultSourceRepo
	}
	return out
}

// UserAgent identifies HTTP clients built from this tree.
func UserAgent(component string) string {
	return "devforum-" + component + "/" + Current().Version
}
