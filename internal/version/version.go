// Package version carries the build version shared by the API and the
// synthesis worker.
package version

import (
	"fmt"
	"regexp"
	"strings"
)

// Injected by the release build:
//
//	-ldflags "-X github.com/drumbench/drumbench/internal/version.version=0.4.0"
var version = "dev"

// String is the version this binary was built as.
func String() string {
	return version
}

// ForTesting swaps in v until the returned func is called.
func ForTesting(v string) func() {
	prev := version
	version = v
	return func() { version = prev }
}

// FormatVersion renders v for humans: release versions get a leading "v",
// "dev" and "" are shown as they are.
func FormatVersion(v string) string {
	switch {
	case v == "", v == "dev", strings.HasPrefix(v, "v"):
		return v
	default:
		return "v" + v
	}
}

// describeDistance is the "-<commits>-g<sha>" tail git describe appends to
// builds made after a tag.
var describeDistance = regexp.MustCompile(`-\d+-g[0-9a-f]+$`)

// CheckWorkerMismatch returns a warning when the worker reports a different
// release than this build. Development and untagged (0.0.0) builds on either
// side never warn, and builds past the same tag count as the same release.
func CheckWorkerMismatch(workerVersion string) string {
	local := version
	release := func(v string) string {
		return describeDistance.ReplaceAllString(strings.TrimPrefix(v, "v"), "")
	}
	for _, v := range []string{local, workerVersion} {
		switch v {
		case "", "dev", "0.0.0":
			return ""
		}
	}
	if release(local) == release(workerVersion) {
		return ""
	}
	return fmt.Sprintf(
		"WARNING: drumbench %s is talking to drumbench-worker %s; restart the worker so both run the same build",
		FormatVersion(local), FormatVersion(workerVersion),
	)
}
