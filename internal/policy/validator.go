package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// groupNamePattern is the character set EC2 allows in VPC security group
// names.
var groupNamePattern = regexp.MustCompile(`^[a-zA-Z0-9 ._\-:/()#,@\[\]+=&;{}!$*]{1,255}$`)

// Validate checks cfg for semantic correctness and returns all validation
// errors found. An empty slice means the policy is valid.
//
// All errors are collected before returning; Validate never stops at the
// first error.
func Validate(cfg *IsolationPolicy) []error {
	if cfg == nil {
		return []error{fmt.Errorf("policy config is nil")}
	}

	var errs []error

	if cfg.Version != 1 {
		errs = append(errs, fmt.Errorf("version: unsupported value %d; must be 1", cfg.Version))
	}

	name := cfg.Quarantine.GroupName
	switch {
	case name == "":
		errs = append(errs, fmt.Errorf("quarantine.group_name: must not be empty"))
	case strings.HasPrefix(strings.ToLower(name), "sg-"):
		errs = append(errs, fmt.Errorf("quarantine.group_name: %q must not start with sg-", name))
	case !groupNamePattern.MatchString(name):
		errs = append(errs, fmt.Errorf("quarantine.group_name: %q contains characters EC2 does not allow", name))
	}

	if vpc := cfg.Quarantine.VpcID; vpc != "" && !strings.HasPrefix(vpc, "vpc-") {
		errs = append(errs, fmt.Errorf("quarantine.vpc_id: invalid value %q; expected vpc-…", vpc))
	}

	for i, expr := range cfg.SamplePatterns {
		if _, err := regexp.Compile(expr); err != nil {
			errs = append(errs, fmt.Errorf("sample_patterns[%d]: %v", i, err))
		}
	}

	switch strings.ToLower(cfg.Reisolation) {
	case "", ReisolationSkip, ReisolationOverwrite:
	default:
		errs = append(errs, fmt.Errorf("reisolation: invalid value %q; valid values: skip, overwrite", cfg.Reisolation))
	}

	if cfg.MinSeverity < 0 || cfg.MinSeverity > 10 {
		errs = append(errs, fmt.Errorf("min_severity: %g out of range; must be between 0 and 10", cfg.MinSeverity))
	}

	return errs
}
