package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/output"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	awsguardduty "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/guardduty"
	"github.com/pankaj-dahiya-devops/guardrail/internal/render"
)

func newFindingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "Inspect GuardDuty findings",
	}
	cmd.PersistentFlags().String("detector-id", "", "GuardDuty detector ID (default: first detector in the region)")
	cmd.AddCommand(newFindingsListCmd())
	cmd.AddCommand(newFindingsInvestigateCmd())
	cmd.AddCommand(newFindingsReportCmd())
	return cmd
}

func newFindingsListCmd() *cobra.Command {
	var (
		maxResults int
		format     string
		colored    bool
		titles     bool
	)

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List recent findings, newest first",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			detectorID, _ := cmd.Flags().GetString("detector-id")
			opts := output.TableOptions{Colored: colored, IncludeTitle: titles}
			return runFindingsList(cmd.Context(), newProvider(), a, cmd.OutOrStdout(), detectorID, maxResults, format, opts)
		},
	}

	cmd.Flags().IntVar(&maxResults, "max-results", awsguardduty.DefaultMaxResults, "Maximum number of findings to return")
	cmd.Flags().StringVar(&format, "format", "table", `Output format: "table" or "json"`)
	cmd.Flags().BoolVar(&colored, "color", false, "Colour severity labels")
	cmd.Flags().BoolVar(&titles, "titles", false, "Include the finding title column")
	return cmd
}

func newFindingsInvestigateCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:          "investigate FINDING_ID",
		Short:        "Break down a single finding: timeline, resource, threat and recommendation",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			detectorID, _ := cmd.Flags().GetString("detector-id")
			return runFindingsInvestigate(cmd.Context(), newProvider(), a, cmd.OutOrStdout(), detectorID, args[0], format)
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", `Output format: "text" or "json"`)
	return cmd
}

func newFindingsReportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:          "report FINDING_ID",
		Short:        "Generate a markdown incident report for a finding",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			detectorID, _ := cmd.Flags().GetString("detector-id")
			inv, err := investigate(cmd.Context(), newProvider(), a, detectorID, args[0])
			if err != nil {
				return err
			}

			meta := render.NewReportMeta(time.Now())
			write := func(w io.Writer) error {
				render.RenderIncidentReport(w, inv, meta)
				return nil
			}
			if outPath == "" {
				return write(cmd.OutOrStdout())
			}
			if err := writeReportToFile(outPath, write); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report %s written to %s\n", meta.ReportID, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "output", "", "Write the report to this file instead of stdout")
	return cmd
}

// guardDutyClient loads the configured profile and returns a findings
// client with the detector to query. An empty detectorID selects the
// region's first detector.
func guardDutyClient(ctx context.Context, provider common.AWSClientProvider, a *app, detectorID string) (*awsguardduty.Client, string, error) {
	pc, err := provider.LoadProfile(ctx, a.cfg.AWS.Profile, a.cfg.AWS.Region)
	if err != nil {
		return nil, "", err
	}
	gd := awsguardduty.NewClient(pc.Clients.GuardDuty, pc.Region)
	if detectorID != "" {
		return gd, detectorID, nil
	}
	detectorID, err = gd.DefaultDetector(ctx)
	if err != nil {
		return nil, "", err
	}
	return gd, detectorID, nil
}

func runFindingsList(ctx context.Context, provider common.AWSClientProvider, a *app, w io.Writer, detectorID string, maxResults int, format string, opts output.TableOptions) error {
	gd, detectorID, err := guardDutyClient(ctx, provider, a, detectorID)
	if err != nil {
		return err
	}

	findings, err := gd.ListFindings(ctx, detectorID, maxResults)
	if err != nil {
		return fmt.Errorf("list findings: %w", err)
	}
	summaries := make([]models.FindingSummary, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, f.Summarize())
	}

	if format == "json" {
		return printJSON(w, summaries)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "No findings.")
		fmt.Fprintf(w, "Generate sample findings with: aws guardduty create-sample-findings --detector-id %s\n", detectorID)
		return nil
	}

	fmt.Fprintf(w, "Detector: %s  Findings: %d\n\n", detectorID, len(summaries))
	output.RenderTable(w, summaries, opts)
	fmt.Fprintln(w)
	output.RenderSummaryLine(w, summaries, opts.Colored)
	return nil
}

func investigate(ctx context.Context, provider common.AWSClientProvider, a *app, detectorID, findingID string) (models.Investigation, error) {
	gd, detectorID, err := guardDutyClient(ctx, provider, a, detectorID)
	if err != nil {
		return models.Investigation{}, err
	}
	f, err := gd.GetFinding(ctx, detectorID, findingID)
	if err != nil {
		return models.Investigation{}, err
	}
	return models.NewInvestigation(f), nil
}

func runFindingsInvestigate(ctx context.Context, provider common.AWSClientProvider, a *app, w io.Writer, detectorID, findingID, format string) error {
	inv, err := investigate(ctx, provider, a, detectorID, findingID)
	if err != nil {
		return err
	}
	if format == "json" {
		return printJSON(w, inv)
	}
	render.RenderInvestigation(w, inv)
	return nil
}
