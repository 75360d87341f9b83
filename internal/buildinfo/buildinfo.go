// Package buildinfo holds values stamped at link time, for example
// -ldflags "-X wmsdispatch/internal/buildinfo.Version=v1.2.0".
package buildinfo

import "fmt"

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// String renders the build for version output, e.g. "v1.2.0 (abc123, 2024-05-01)".
func String() string {
	if Commit == "" && BuiltAt == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, BuiltAt)
}
