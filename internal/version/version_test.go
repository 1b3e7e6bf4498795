package version

import (
	"strings"
	"testing"
)

func TestForTestingRestores(t *testing.T) {
	restore := ForTesting("1.2.3-test")
	if got := String(); got != "1.2.3-test" {
		t.Fatalf("String() = %q, want 1.2.3-test", got)
	}
	restore()
	if got := String(); got == "1.2.3-test" {
		t.Fatalf("version not restored, still %q", got)
	}
}

func TestCheckWorkerMismatch(t *testing.T) {
	// local, worker, warn
	cases := [][3]string{
		{"0.4.0", "0.4.0", ""},
		{"0.4.0", "0.3.1", "warn"},
		{"v0.4.0", "0.4.0", ""},
		{"v0.4.0", "v0.3.1", "warn"},
		{"0.4.0-2-g9f8e7d6", "0.4.0", ""},
		{"0.4.0-2-g9f8e7d6", "v0.4.0-7-g0123abc", ""},
		{"0.4.0-2-g9f8e7d6", "0.3.1", "warn"},
		{"dev", "0.4.0", ""},
		{"0.4.0", "dev", ""},
		{"", "0.4.0", ""},
		{"0.4.0", "", ""},
		{"0.0.0", "0.4.0", ""},
		{"0.4.0", "0.0.0", ""},
		{"1.4.2-rc2", "1.4.2-rc2-3-gdeadbe", ""},
		{"1.4.2-rc2", "1.4.2", "warn"},
		{"v1.4.2-12-g00ff00a", "1.4.3-1-g1a2b3c4", "warn"},
	}
	for _, c := range cases {
		local, worker, wantWarn := c[0], c[1], c[2] != ""
		t.Run(local+"_vs_"+worker, func(t *testing.T) {
			t.Cleanup(ForTesting(local))

			got := CheckWorkerMismatch(worker)
			if !wantWarn {
				if got != "" {
					t.Fatalf("unexpected warning %q", got)
				}
				return
			}
			for _, want := range []string{"WARNING: drumbench ", "drumbench-worker " + FormatVersion(worker), "restart the worker"} {
				if !strings.Contains(got, want) {
					t.Errorf("warning %q does not mention %q", got, want)
				}
			}
		})
	}
}

func TestFormatVersion(t *testing.T) {
	for in, want := range map[string]string{
		"1.4.2":     "v1.4.2",
		"v1.4.2":    "v1.4.2",
		"2.0.0-rc1": "v2.0.0-rc1",
		"dev":       "dev",
		"":          "",
	} {
		if got := FormatVersion(in); got != want {
			t.Errorf("FormatVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
