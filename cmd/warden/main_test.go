package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "frobnicate"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "Unknown command") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"warden", "help"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "warden demo") {
		t.Errorf("usage missing demo: %q", stdout.String())
	}
}

func TestRun_DemoExportVerifyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	auditPath := filepath.Join(dir, "trail.jsonl")
	packPath := filepath.Join(dir, "pack.zip")

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "-audit", auditPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "authorization:") {
		t.Errorf("demo output missing authorization: %s", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"warden", "export", "-audit", auditPath, "-out", packPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("export exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "checksum: sha256:") {
		t.Errorf("export output missing checksum: %s", stdout.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"warden", "verify", "-pack", packPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("verify exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "OK:") {
		t.Errorf("verify output = %q", stdout.String())
	}
}

func TestRun_DemoWithProfile(t *testing.T) {
	dir := t.TempDir()
	profile := "schema_version: \"1.1.0\"\nname: lenient\nmax_retries: 5\npolicy_rules:\n  - \"confidence && readiness\"\n"
	if err := os.WriteFile(filepath.Join(dir, "profile_lenient.yaml"), []byte(profile), 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	t.Setenv("PROFILE_DIR", dir)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "-profile", "lenient"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "profile:        lenient") {
		t.Errorf("demo output missing profile line: %s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "authorization:") {
		t.Errorf("demo output missing authorization: %s", stdout.String())
	}
}

func TestRun_DemoProfilePolicyRulesReachTheGate(t *testing.T) {
	dir := t.TempDir()
	profile := "schema_version: \"1.0.0\"\nname: lockdown\npolicy_rules:\n  - \"false\"\n"
	if err := os.WriteFile(filepath.Join(dir, "profile_lockdown.yaml"), []byte(profile), 0o644); err != nil {
		t.Fatalf("writing profile: %v", err)
	}
	t.Setenv("PROFILE_DIR", dir)

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "-profile", "lockdown"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr: %s", code, stderr.String())
	}
	// A profile rule that never holds must deny the authorization.
	if !strings.Contains(stdout.String(), "policy_denied") {
		t.Errorf("demo output missing policy denial: %s", stdout.String())
	}
	if strings.Contains(stdout.String(), "authorization:") {
		t.Errorf("denied cycle must not print an authorization: %s", stdout.String())
	}
}

func TestRun_DemoUnknownProfileFails(t *testing.T) {
	t.Setenv("PROFILE_DIR", t.TempDir())

	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "-profile", "ghost"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("demo exit = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "loading profile") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRun_DemoAbortHalts(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"warden", "demo", "-decision", "ABORT"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("demo exit = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "HUMAN_ABORT") {
		t.Errorf("abort demo output = %s", stdout.String())
	}
}
