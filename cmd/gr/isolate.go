package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pankaj-dahiya-devops/guardrail/internal/engine"
	"github.com/pankaj-dahiya-devops/guardrail/internal/metrics"
	"github.com/pankaj-dahiya-devops/guardrail/internal/notify"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	awsevidence "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/evidence"
	awsisolation "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/isolation"
	"github.com/pankaj-dahiya-devops/guardrail/internal/render"
)

func newIsolateCmd() *cobra.Command {
	var (
		eventPath string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "isolate",
		Short: "Quarantine the EC2 instance named in a GuardDuty finding event",
		Long: `Reads one GuardDuty finding, either an EventBridge event or the bare
finding object, and moves the affected instance into the quarantine
security group. The original groups are recorded on the instance as tags
and an alert is posted to SLACK_WEBHOOK_URL.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			in, err := openInput(eventPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			defer in.Close()

			_, err = runIsolate(cmd.Context(), newProvider(), a, in, cmd.OutOrStdout(), format)
			return err
		},
	}

	cmd.Flags().StringVar(&eventPath, "event", "-", `Finding event file, or "-" for stdin`)
	cmd.Flags().StringVar(&format, "format", "json", `Output format: "json" or "table"`)
	return cmd
}

// runIsolate handles exactly one finding event. The instance is isolated in
// the finding's own region, falling back to the configured region when the
// event carries none. A non-nil error is a fatal isolation failure; the
// failure alert has already been sent by the time it is returned.
func runIsolate(ctx context.Context, provider common.AWSClientProvider, a *app, in io.Reader, w io.Writer, format string) (*engine.Result, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	finding, err := engine.DecodeEvent(data)
	if err != nil {
		return nil, err
	}

	region := finding.Region
	if region == "" {
		region = a.cfg.AWS.Region
	}
	pc, err := provider.LoadProfile(ctx, a.cfg.AWS.Profile, region)
	if err != nil {
		return nil, err
	}

	var observer engine.OutcomeObserver
	if ns := a.cfg.Metrics.CloudWatchNamespace; ns != "" {
		observer = metrics.NewCloudWatch(pc.Clients.CloudWatch, ns, a.log)
	}

	orch, err := newOrchestrator(a, pc.Clients, pc.Region, observer)
	if err != nil {
		return nil, err
	}

	res, err := orch.Isolate(ctx, finding)
	if err != nil {
		return nil, err
	}
	return res, writeResult(w, res, format)
}

// newOrchestrator wires the AWS-backed collaborators for region into an
// Orchestrator configured from the policy and environment. observer may
// be nil.
func newOrchestrator(a *app, clients *common.ClientSet, region string, observer engine.OutcomeObserver) (*engine.Orchestrator, error) {
	patterns, err := a.pol.CompiledSamplePatterns()
	if err != nil {
		return nil, err
	}

	spec := awsisolation.QuarantineSpec{
		GroupName:    a.pol.Quarantine.GroupName,
		Description:  a.pol.Quarantine.Description,
		VpcID:        a.pol.Quarantine.VpcID,
		EnforceEmpty: a.pol.Quarantine.EnforceEmpty,
	}
	deps := engine.Dependencies{
		Quarantine: awsisolation.NewQuarantineManager(clients.EC2, spec, a.log),
		Capturer:   awsisolation.NewCapturer(clients.EC2),
		Executor:   awsisolation.NewExecutor(clients.EC2),
		Recorder:   awsisolation.NewRecorder(clients.EC2),
		Notifier:   notify.NewWebhookSink(a.cfg.Slack.WebhookURL, a.log),
		Metrics:    observer,
	}
	if bucket := a.cfg.Isolation.EvidenceBucket; bucket != "" {
		deps.Evidence = awsevidence.NewArchiver(clients.S3, bucket)
	}

	opts := engine.Options{
		Region:         region,
		IsolatedBy:     a.pol.IsolatedBy,
		TestInstanceID: a.cfg.Isolation.TestInstanceID,
		SamplePatterns: patterns,
		MinSeverity:    a.pol.MinSeverity,
		Reisolation:    a.pol.Reisolation,
		CallTimeout:    a.cfg.Isolation.CallTimeout,
	}
	return engine.NewOrchestrator(deps, opts, a.log), nil
}

func writeResult(w io.Writer, res *engine.Result, format string) error {
	if format == "table" {
		render.RenderIsolationResult(w, res)
		return nil
	}
	return printJSON(w, res)
}
