package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/guardrail/internal/config"
	"github.com/pankaj-dahiya-devops/guardrail/internal/policy"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	awsguardduty "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/guardduty"
	awsisolation "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/isolation"
)

// DoctorResult is the structured output of gr doctor. It can be serialised to
// JSON via --format=json or rendered as a human-readable table (default).
type DoctorResult struct {
	AWS struct {
		Profile     string `json:"profile,omitempty"`
		Region      string `json:"region,omitempty"`
		Credentials bool   `json:"credentials_ok"`
		AccountID   string `json:"account_id,omitempty"`
		Error       string `json:"error,omitempty"`
	} `json:"aws"`

	GuardDuty struct {
		DetectorID string `json:"detector_id,omitempty"`
		Enabled    bool   `json:"enabled"`
		Error      string `json:"error,omitempty"`
	} `json:"guardduty"`

	Quarantine struct {
		GroupName string `json:"group_name"`
		Present   bool   `json:"present"`
		GroupID   string `json:"group_id,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"quarantine"`

	Webhook struct {
		Configured bool `json:"configured"`
	} `json:"webhook"`

	Policy struct {
		Path    string   `json:"path"`
		Present bool     `json:"present"`
		Valid   bool     `json:"valid"`
		Errors  []string `json:"errors,omitempty"`
	} `json:"policy"`

	OverallHealthy bool `json:"overall_healthy"`
}

// doctorInput is the configuration the checks run against.
type doctorInput struct {
	Profile    string
	Region     string
	WebhookURL string
	PolicyPath string
}

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "doctor",
		Short:         "Run environment diagnostics",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, cfg)

			result, err := runDoctor(
				cmd.Context(),
				newProvider(),
				cmd.OutOrStdout(),
				format,
				doctorInput{
					Profile:    cfg.AWS.Profile,
					Region:     cfg.AWS.Region,
					WebhookURL: cfg.Slack.WebhookURL,
					PolicyPath: cfg.PolicyFile,
				},
			)
			if err != nil {
				// Rendering failure: let Cobra/main handle it.
				return err
			}
			if !result.OverallHealthy {
				// Exit directly so no error text reaches main.go's
				// fmt.Fprintln(os.Stderr, err) path.
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().String("format", "table", `Output format: "table" or "json"`)
	return cmd
}

// runDoctor collects all diagnostic results, renders them to w in the
// requested format, and returns the result.
// The returned error covers only rendering failures (e.g. JSON encode error).
// Callers must inspect result.OverallHealthy to determine whether the
// environment is healthy.
func runDoctor(ctx context.Context, awsProvider common.AWSClientProvider, w io.Writer, format string, in doctorInput) (DoctorResult, error) {
	result := collectDoctorResult(ctx, awsProvider, in)

	switch format {
	case "json":
		if err := json.NewEncoder(w).Encode(result); err != nil {
			return result, fmt.Errorf("encode doctor result: %w", err)
		}
	default:
		renderDoctorTable(result, w)
	}

	return result, nil
}

// collectDoctorResult runs all environment checks and populates a DoctorResult.
// It never creates or modifies AWS resources.
func collectDoctorResult(ctx context.Context, awsProvider common.AWSClientProvider, in doctorInput) DoctorResult {
	var result DoctorResult

	// Policy first: the quarantine group name comes from it.
	pol := doctorPolicy(&result, in.PolicyPath)

	result.Webhook.Configured = in.WebhookURL != ""
	result.AWS.Profile = in.Profile
	result.Quarantine.GroupName = pol.Quarantine.GroupName

	// AWS: credentials → STS account ID → GuardDuty detector → quarantine group.
	profileCfg, err := awsProvider.LoadProfile(ctx, in.Profile, in.Region)
	if err != nil {
		result.AWS.Error = err.Error()
	} else {
		result.AWS.Credentials = true
		result.AWS.AccountID = profileCfg.AccountID
		result.AWS.Region = profileCfg.Region

		status, err := awsguardduty.NewClient(profileCfg.Clients.GuardDuty, profileCfg.Region).Status(ctx)
		if err != nil {
			result.GuardDuty.Error = err.Error()
		} else {
			result.GuardDuty.DetectorID = status.DetectorID
			result.GuardDuty.Enabled = status.Enabled
		}

		qm := awsisolation.NewQuarantineManager(profileCfg.Clients.EC2, awsisolation.QuarantineSpec{
			GroupName: pol.Quarantine.GroupName,
			VpcID:     pol.Quarantine.VpcID,
		}, zerolog.Nop())
		groupID, err := qm.Lookup(ctx)
		switch {
		case err == nil:
			result.Quarantine.Present = true
			result.Quarantine.GroupID = groupID
		case errors.Is(err, awsisolation.ErrGroupNotFound):
			// Created on first isolation.
		default:
			result.Quarantine.Error = err.Error()
		}
	}

	result.OverallHealthy = result.AWS.Credentials &&
		result.GuardDuty.Enabled &&
		result.Quarantine.Error == "" &&
		result.Webhook.Configured &&
		(!result.Policy.Present || result.Policy.Valid)

	return result
}

// doctorPolicy records the policy file state on result and returns the
// policy isolation would run with, falling back to the default when the
// file is absent or broken.
func doctorPolicy(result *DoctorResult, path string) *policy.IsolationPolicy {
	result.Policy.Path = path

	_, statErr := os.Stat(path)
	if statErr != nil {
		if !os.IsNotExist(statErr) {
			// Present but unreadable.
			result.Policy.Present = true
			result.Policy.Errors = []string{statErr.Error()}
		}
		return policy.Default()
	}

	result.Policy.Present = true
	cfg, err := policy.LoadPolicy(path)
	if err != nil {
		result.Policy.Errors = []string{err.Error()}
		return policy.Default()
	}
	errs := policy.Validate(cfg)
	if len(errs) == 0 {
		result.Policy.Valid = true
		return cfg
	}
	for _, e := range errs {
		result.Policy.Errors = append(result.Policy.Errors, e.Error())
	}
	return policy.Default()
}

// renderDoctorTable writes the human-readable diagnostic output from result to w.
func renderDoctorTable(result DoctorResult, w io.Writer) {
	fmt.Fprintln(w, "Environment Diagnostics")

	if result.AWS.Profile != "" {
		fmt.Fprintf(w, "\nAWS (profile: %s):\n", result.AWS.Profile)
	} else {
		fmt.Fprintln(w, "\nAWS:")
	}
	if !result.AWS.Credentials {
		doctorPrint(w, "Credentials", "FAIL", result.AWS.Error)
		doctorPrint(w, "STS Identity", "FAIL", "skipped")
		doctorPrint(w, "GuardDuty", "FAIL", "skipped")
		doctorPrint(w, "Quarantine group", "FAIL", "skipped")
	} else {
		doctorPrint(w, "Credentials", "OK", "")
		doctorPrint(w, "STS Identity", "OK", "Account: "+result.AWS.AccountID)

		switch {
		case result.GuardDuty.Error != "":
			doctorPrint(w, "GuardDuty", "FAIL", result.GuardDuty.Error)
		case result.GuardDuty.DetectorID == "":
			doctorPrint(w, "GuardDuty", "FAIL", "no detector in "+result.AWS.Region)
		case !result.GuardDuty.Enabled:
			doctorPrint(w, "GuardDuty", "FAIL", "detector "+result.GuardDuty.DetectorID+" disabled")
		default:
			doctorPrint(w, "GuardDuty", "OK", "Detector: "+result.GuardDuty.DetectorID)
		}

		switch {
		case result.Quarantine.Error != "":
			doctorPrint(w, "Quarantine group", "FAIL", result.Quarantine.Error)
		case result.Quarantine.Present:
			doctorPrint(w, "Quarantine group", "OK", result.Quarantine.GroupName+" "+result.Quarantine.GroupID)
		default:
			doctorPrint(w, "Quarantine group", "Not found (created on first isolation)", result.Quarantine.GroupName)
		}
	}

	fmt.Fprintln(w, "\nNotification:")
	if result.Webhook.Configured {
		doctorPrint(w, "Slack webhook", "OK", "")
	} else {
		doctorPrint(w, "Slack webhook", "FAIL", config.KeySlackWebhookURL+" not set")
	}

	fmt.Fprintln(w, "\nPolicy:")
	label := result.Policy.Path + " present"
	if !result.Policy.Present {
		doctorPrint(w, label, "Not found (optional)", "")
	} else {
		doctorPrint(w, label, "YES", "")
		if result.Policy.Valid {
			doctorPrint(w, "Policy valid", "OK", "")
		} else {
			for _, e := range result.Policy.Errors {
				doctorPrint(w, "Policy valid", "FAIL", e)
			}
		}
	}
}

// doctorPrint writes a single diagnostic check line to w.
// When detail is non-empty it is appended in parentheses.
func doctorPrint(w io.Writer, label, status, detail string) {
	if detail != "" {
		fmt.Fprintf(w, "  %s: %s (%s)\n", label, status, detail)
	} else {
		fmt.Fprintf(w, "  %s: %s\n", label, status)
	}
}
