package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/guardrail/internal/config"
	"github.com/pankaj-dahiya-devops/guardrail/internal/logging"
	"github.com/pankaj-dahiya-devops/guardrail/internal/policy"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	"github.com/pankaj-dahiya-devops/guardrail/internal/version"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gr",
		Short: "Contain EC2 instances flagged by GuardDuty",
	}
	root.PersistentFlags().String("profile", "", "AWS profile name (default: AWS_PROFILE or the credential chain)")
	root.PersistentFlags().String("region", "", "AWS region (default: AWS_REGION, then "+config.DefaultRegion+")")
	root.PersistentFlags().String("policy", "", "Isolation policy file (default: POLICY_FILE, then "+config.DefaultPolicyFile+")")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")

	root.AddCommand(newIsolateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newFindingsCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Info())
		},
	}
}

// app is the configuration every command runs with: environment settings
// with command-line overrides applied, the isolation policy and the logger.
type app struct {
	cfg *config.Config
	pol *policy.IsolationPolicy
	log zerolog.Logger
}

// loadApp reads the environment, applies flag overrides and loads the
// policy file. A missing policy file selects the default policy; an
// unreadable or invalid one is an error.
func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}

	pol, err := loadPolicy(cfg.PolicyFile)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg,
		pol: pol,
		log: logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr()),
	}, nil
}

// applyFlagOverrides copies explicitly set persistent flags onto cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.AWS.Profile, _ = flags.GetString("profile")
	}
	if flags.Changed("region") {
		cfg.AWS.Region, _ = flags.GetString("region")
	}
	if flags.Changed("policy") {
		cfg.PolicyFile, _ = flags.GetString("policy")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
}

func loadPolicy(path string) (*policy.IsolationPolicy, error) {
	pol, _, err := policy.LoadPolicyOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", path, err)
	}
	if errs := policy.Validate(pol); len(errs) > 0 {
		return nil, fmt.Errorf("invalid policy %s: %w", path, errors.Join(errs...))
	}
	return pol, nil
}

// newProvider is swapped in tests.
var newProvider = func() common.AWSClientProvider {
	return common.NewDefaultAWSClientProvider()
}

// printJSON writes v as indented JSON to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openInput returns stdin for "-" and the named file otherwise.
func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	return f, nil
}

// writeReportToFile writes render output to path, creating or truncating it.
func writeReportToFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := render(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
