package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	guardduty "github.com/aws/aws-sdk-go-v2/service/guardduty"
	guarddutytype "github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/guardrail/internal/config"
	"github.com/pankaj-dahiya-devops/guardrail/internal/policy"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/common"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/isolation/isolationtest"
)

// ── AWS mock ──────────────────────────────────────────────────────────────────

type mockAWSProvider struct {
	profileResult *common.ProfileConfig
	profileErr    error
	lastProfile   string // records the profile name passed to LoadProfile
	lastRegion    string // records the region passed to LoadProfile
}

func (m *mockAWSProvider) LoadProfile(_ context.Context, profile, region string) (*common.ProfileConfig, error) {
	m.lastProfile = profile
	m.lastRegion = region
	if m.profileErr != nil {
		return nil, m.profileErr
	}
	pc := *m.profileResult
	if region != "" {
		pc.Region = region
	}
	return &pc, nil
}

// ── GuardDuty mock ────────────────────────────────────────────────────────────

type fakeGuardDuty struct {
	detectors []string
	status    guarddutytype.DetectorStatus
	findings  []guarddutytype.Finding
	err       error
}

func (f *fakeGuardDuty) ListDetectors(_ context.Context, _ *guardduty.ListDetectorsInput, _ ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &guardduty.ListDetectorsOutput{DetectorIds: f.detectors}, nil
}

func (f *fakeGuardDuty) GetDetector(_ context.Context, _ *guardduty.GetDetectorInput, _ ...func(*guardduty.Options)) (*guardduty.GetDetectorOutput, error) {
	return &guardduty.GetDetectorOutput{Status: f.status}, nil
}

func (f *fakeGuardDuty) ListFindings(_ context.Context, _ *guardduty.ListFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error) {
	out := &guardduty.ListFindingsOutput{}
	for _, fd := range f.findings {
		out.FindingIds = append(out.FindingIds, aws.ToString(fd.Id))
	}
	return out, nil
}

func (f *fakeGuardDuty) GetFindings(_ context.Context, in *guardduty.GetFindingsInput, _ ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error) {
	out := &guardduty.GetFindingsOutput{}
	for _, id := range in.FindingIds {
		for _, fd := range f.findings {
			if aws.ToString(fd.Id) == id {
				out.Findings = append(out.Findings, fd)
			}
		}
	}
	return out, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// testEnv is a mock provider wired to an in-memory EC2 and GuardDuty.
type testEnv struct {
	provider *mockAWSProvider
	ec2      *isolationtest.FakeEC2
	gd       *fakeGuardDuty
}

func newTestEnv() *testEnv {
	env := &testEnv{
		ec2: isolationtest.New(),
		gd: &fakeGuardDuty{
			detectors: []string{"det-1"},
			status:    guarddutytype.DetectorStatusEnabled,
		},
	}
	env.provider = &mockAWSProvider{
		profileResult: &common.ProfileConfig{
			ProfileName: "default",
			AccountID:   "123456789012",
			Region:      "eu-west-2",
			Clients: &common.ClientSet{
				EC2:       env.ec2,
				GuardDuty: env.gd,
			},
		},
	}
	return env
}

// testApp returns an app with the default policy and environment defaults.
func testApp(webhookURL string) *app {
	return &app{
		cfg: &config.Config{
			AWS:   config.AWSConfig{Region: "eu-west-2"},
			Slack: config.SlackConfig{WebhookURL: webhookURL},
			Isolation: config.IsolationConfig{
				CallTimeout: 2 * time.Second,
			},
			Logging: config.LoggingConfig{Level: "info", Format: "json"},
			NATS: config.NATSConfig{
				Subject: config.DefaultNATSSubject,
				Queue:   config.DefaultNATSQueue,
			},
			Metrics:    config.MetricsConfig{Addr: "127.0.0.1:0"},
			PolicyFile: config.DefaultPolicyFile,
		},
		pol: policy.Default(),
		log: zerolog.Nop(),
	}
}

// chdirTemp moves the test into a fresh temp directory (no gr.yaml) and
// returns its path.
func chdirTemp(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return tmp
}
