package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// profileSchemaConstraint is the schema-version range this build understands.
const profileSchemaConstraint = ">= 1.0.0, < 2.0.0"

// GovernanceProfile is a named set of governance thresholds loaded from
// YAML. Zero-valued fields fall back to the environment defaults.
type GovernanceProfile struct {
	SchemaVersion     string   `yaml:"schema_version" json:"schema_version"`
	Name              string   `yaml:"name" json:"name"`
	GateTimeoutMs     int      `yaml:"gate_timeout_ms,omitempty" json:"gate_timeout_ms,omitempty"`
	IntentFreshnessMs int      `yaml:"intent_freshness_ms,omitempty" json:"intent_freshness_ms,omitempty"`
	TokenTTLMs        int      `yaml:"token_ttl_ms,omitempty" json:"token_ttl_ms,omitempty"`
	MaxRetries        int      `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	DispatchRate      float64  `yaml:"dispatch_rate,omitempty" json:"dispatch_rate,omitempty"`
	DispatchBurst     int      `yaml:"dispatch_burst,omitempty" json:"dispatch_burst,omitempty"`
	PolicyRules       []string `yaml:"policy_rules,omitempty" json:"policy_rules,omitempty"`
}

// GateTimeout returns the profile's gate timeout, zero when unset.
func (p *GovernanceProfile) GateTimeout() time.Duration {
	return time.Duration(p.GateTimeoutMs) * time.Millisecond
}

// IntentFreshness returns the profile's freshness window, zero when unset.
func (p *GovernanceProfile) IntentFreshness() time.Duration {
	return time.Duration(p.IntentFreshnessMs) * time.Millisecond
}

// TokenTTL returns the profile's token lifetime, zero when unset.
func (p *GovernanceProfile) TokenTTL() time.Duration {
	return time.Duration(p.TokenTTLMs) * time.Millisecond
}

// LoadProfile loads a governance profile YAML by name.
// It searches the profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*GovernanceProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	profile, err := parseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}
	return profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*GovernanceProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*GovernanceProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		profile, err := parseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Name == "" {
			base := filepath.Base(path)
			profile.Name = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Name] = profile
	}

	return profiles, nil
}

func parseProfile(data []byte) (*GovernanceProfile, error) {
	var profile GovernanceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, err
	}
	if err := checkSchemaVersion(profile.SchemaVersion); err != nil {
		return nil, err
	}
	return &profile, nil
}

func checkSchemaVersion(raw string) error {
	if raw == "" {
		return fmt.Errorf("schema_version is required")
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("schema_version %q: %w", raw, err)
	}
	constraint, err := semver.NewConstraint(profileSchemaConstraint)
	if err != nil {
		return err
	}
	if !constraint.Check(v) {
		return fmt.Errorf("schema_version %s outside supported range %s", v, profileSchemaConstraint)
	}
	return nil
}

// Apply overlays the profile's non-zero thresholds onto a config.
func (p *GovernanceProfile) Apply(cfg *Config) {
	if d := p.GateTimeout(); d > 0 {
		cfg.GateTimeout = d
	}
	if d := p.IntentFreshness(); d > 0 {
		cfg.IntentFreshness = d
	}
	if d := p.TokenTTL(); d > 0 {
		cfg.TokenTTL = d
	}
	if p.MaxRetries > 0 {
		cfg.MaxRetries = p.MaxRetries
	}
	if p.DispatchRate > 0 {
		cfg.DispatchRate = p.DispatchRate
	}
	if p.DispatchBurst > 0 {
		cfg.DispatchBurst = p.DispatchBurst
	}
}
