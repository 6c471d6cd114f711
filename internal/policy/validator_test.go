package policy_test

import (
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/guardrail/internal/policy"
)

// ── happy path ────────────────────────────────────────────────────────────────

func TestValidate_DefaultIsValid(t *testing.T) {
	if errs := policy.Validate(policy.Default()); len(errs) != 0 {
		t.Errorf("expected no errors; got %d: %v", len(errs), errs)
	}
}

func TestValidate_ValidFullConfig(t *testing.T) {
	cfg := &policy.IsolationPolicy{
		Version: 1,
		Quarantine: policy.QuarantineConfig{
			GroupName: "ir quarantine (prod)",
			VpcID:     "vpc-0123",
		},
		SamplePatterns: []string{`^i-9+$`},
		Reisolation:    "overwrite",
		MinSeverity:    4,
	}
	if errs := policy.Validate(cfg); len(errs) != 0 {
		t.Errorf("expected no errors; got %d: %v", len(errs), errs)
	}
}

// ── individual failures ───────────────────────────────────────────────────────

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*policy.IsolationPolicy)
		want   string
	}{
		{"version", func(p *policy.IsolationPolicy) { p.Version = 2 }, "version"},
		{"empty group name", func(p *policy.IsolationPolicy) { p.Quarantine.GroupName = "" }, "group_name"},
		{"sg- prefix", func(p *policy.IsolationPolicy) { p.Quarantine.GroupName = "sg-quarantine" }, "sg-"},
		{"bad characters", func(p *policy.IsolationPolicy) { p.Quarantine.GroupName = "quarantine%" }, "characters"},
		{"vpc id", func(p *policy.IsolationPolicy) { p.Quarantine.VpcID = "0123" }, "vpc_id"},
		{"pattern", func(p *policy.IsolationPolicy) { p.SamplePatterns = []string{"("} }, "sample_patterns[0]"},
		{"reisolation", func(p *policy.IsolationPolicy) { p.Reisolation = "always" }, "reisolation"},
		{"severity high", func(p *policy.IsolationPolicy) { p.MinSeverity = 11 }, "min_severity"},
		{"severity low", func(p *policy.IsolationPolicy) { p.MinSeverity = -1 }, "min_severity"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := policy.Default()
			tc.mutate(cfg)
			errs := policy.Validate(cfg)
			if len(errs) != 1 {
				t.Fatalf("expected 1 error; got %d: %v", len(errs), errs)
			}
			if !strings.Contains(errs[0].Error(), tc.want) {
				t.Errorf("error %q does not mention %q", errs[0], tc.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := &policy.IsolationPolicy{
		Version:        0,
		SamplePatterns: []string{"[", "("},
		Reisolation:    "maybe",
		MinSeverity:    42,
	}
	// version, group_name, two patterns, reisolation, min_severity
	if errs := policy.Validate(cfg); len(errs) != 6 {
		t.Errorf("expected 6 errors; got %d: %v", len(errs), errs)
	}
}

func TestValidate_Nil(t *testing.T) {
	if errs := policy.Validate(nil); len(errs) != 1 {
		t.Errorf("expected 1 error for nil config; got %v", errs)
	}
}
