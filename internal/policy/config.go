// Package policy loads the optional gr.yaml isolation policy.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// IsolationPolicy is the on-disk policy format.
type IsolationPolicy struct {
	Version        int              `yaml:"version"`
	Quarantine     QuarantineConfig `yaml:"quarantine"`
	IsolatedBy     string           `yaml:"isolated_by"`
	SamplePatterns []string         `yaml:"sample_patterns"`
	Reisolation    string           `yaml:"reisolation"`
	MinSeverity    float64          `yaml:"min_severity"`
}

// QuarantineConfig names the quarantine security group. EnforceEmpty
// revokes rules an operator added to an existing group.
type QuarantineConfig struct {
	GroupName    string `yaml:"group_name"`
	Description  string `yaml:"description"`
	VpcID        string `yaml:"vpc_id,omitempty"`
	EnforceEmpty bool   `yaml:"enforce_empty"`
}

// Defaults.
const (
	DefaultGroupName     = "guardduty-isolation-sg"
	DefaultDescription   = "Isolation security group for compromised instances"
	DefaultIsolatedBy    = "GuardDuty"
	ReisolationSkip      = "skip"
	ReisolationOverwrite = "overwrite"
)

// DefaultSamplePatterns match instance IDs used by GuardDuty sample findings.
var DefaultSamplePatterns = []string{`^i-9+(-sample)?$`, `-sample$`}

// Default returns the policy used when no file is present.
func Default() *IsolationPolicy {
	p := &IsolationPolicy{Version: 1}
	p.applyDefaults()
	return p
}

func (p *IsolationPolicy) applyDefaults() {
	if p.Quarantine.GroupName == "" {
		p.Quarantine.GroupName = DefaultGroupName
	}
	if p.Quarantine.Description == "" {
		p.Quarantine.Description = DefaultDescription
	}
	if p.IsolatedBy == "" {
		p.IsolatedBy = DefaultIsolatedBy
	}
	if p.SamplePatterns == nil {
		p.SamplePatterns = append([]string{}, DefaultSamplePatterns...)
	}
	p.Reisolation = strings.ToLower(strings.TrimSpace(p.Reisolation))
	if p.Reisolation == "" {
		p.Reisolation = ReisolationSkip
	}
}

// CompiledSamplePatterns compiles SamplePatterns. Validate reports the same
// errors up front.
func (p *IsolationPolicy) CompiledSamplePatterns() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(p.SamplePatterns))
	for i, expr := range p.SamplePatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("sample_patterns[%d]: %w", i, err)
		}
		out = append(out, re)
	}
	return out, nil
}
