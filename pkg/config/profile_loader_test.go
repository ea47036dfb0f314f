package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ledgerline/warden/core/pkg/config"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "strict", `
schema_version: "1.1.0"
name: strict
gate_timeout_ms: 120000
intent_freshness_ms: 300000
token_ttl_ms: 30000
max_retries: 1
policy_rules:
  - confidence && readiness && contract_is_valid
`)

	p, err := config.LoadProfile(dir, "strict")
	require.NoError(t, err)
	require.Equal(t, "strict", p.Name)
	require.Equal(t, 2*time.Minute, p.GateTimeout())
	require.Equal(t, 30*time.Second, p.TokenTTL())
	require.Equal(t, 1, p.MaxRetries)
	require.Len(t, p.PolicyRules, 1)
}

func TestLoadProfileSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "future", `
schema_version: "2.0.0"
name: future
`)
	_, err := config.LoadProfile(dir, "future")
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema_version")

	writeProfile(t, dir, "unversioned", `
name: unversioned
`)
	_, err = config.LoadProfile(dir, "unversioned")
	require.Error(t, err)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "strict", "schema_version: \"1.0.0\"\nname: strict\n")
	writeProfile(t, dir, "lenient", "schema_version: \"1.0.0\"\nmax_retries: 5\n")

	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	// Name falls back to the filename when the YAML omits it.
	require.Contains(t, profiles, "lenient")
	require.Equal(t, 5, profiles["lenient"].MaxRetries)
}

func TestProfileApply(t *testing.T) {
	cfg := config.Load()
	p := &config.GovernanceProfile{GateTimeoutMs: 60000, MaxRetries: 7}
	p.Apply(cfg)
	require.Equal(t, time.Minute, cfg.GateTimeout)
	require.Equal(t, 7, cfg.MaxRetries)
	// Zero-valued fields leave the config untouched.
	require.Equal(t, 2*time.Minute, cfg.TokenTTL)
}
