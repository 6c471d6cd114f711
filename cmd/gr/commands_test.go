package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	guarddutytype "github.com/aws/aws-sdk-go-v2/service/guardduty/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pankaj-dahiya-devops/guardrail/internal/config"
	"github.com/pankaj-dahiya-devops/guardrail/internal/engine"
	"github.com/pankaj-dahiya-devops/guardrail/internal/metrics"
	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/output"
	awsguardduty "github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/guardduty"
	"github.com/pankaj-dahiya-devops/guardrail/internal/providers/aws/isolation/isolationtest"
)

// webhook records every payload posted to it.
type webhook struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newWebhook(t *testing.T, status int) *webhook {
	t.Helper()
	h := &webhook{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, string(body))
		h.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *webhook) posts() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.bodies...)
}

const isolateEvent = `{
  "version": "0",
  "detail-type": "GuardDuty Finding",
  "source": "aws.guardduty",
  "region": "eu-west-1",
  "detail": {
    "id": "f-7",
    "type": "Backdoor:EC2/C&CActivity.B",
    "severity": 8,
    "title": "C&C traffic",
    "resource": {
      "resourceType": "Instance",
      "instanceDetails": {"instanceId": "i-0abc"}
    }
  }
}`

// ── isolate ───────────────────────────────────────────────────────────────────

func TestRunIsolate_EndToEnd(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web", "sg-ssh")
	hook := newWebhook(t, http.StatusOK)

	var out bytes.Buffer
	res, err := runIsolate(context.Background(), env.provider, testApp(hook.srv.URL), strings.NewReader(isolateEvent), &out, "json")
	require.NoError(t, err)

	assert.Equal(t, "eu-west-1", env.provider.lastRegion, "finding region is used")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, engine.StateNotified, res.State)
	assert.Equal(t, models.Membership{"sg-web", "sg-ssh"}, res.Body.OriginalSecurityGroups)

	group, ok := env.ec2.Group("guardduty-isolation-sg")
	require.True(t, ok)
	assert.Equal(t, []string{group.ID}, env.ec2.Membership("i-0abc"))
	assert.Equal(t, "sg-web,sg-ssh", env.ec2.Tags("i-0abc")[models.TagOriginalSecurityGroups])

	posts := hook.posts()
	require.Len(t, posts, 1)
	assert.Contains(t, posts[0], "i-0abc")

	var printed engine.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, engine.MessageIsolated, printed.Body.Message)
}

func TestRunIsolate_TableFormat(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")
	hook := newWebhook(t, http.StatusOK)

	var out bytes.Buffer
	_, err := runIsolate(context.Background(), env.provider, testApp(hook.srv.URL), strings.NewReader(isolateEvent), &out, "table")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "ISOLATED  i-0abc")
	assert.Contains(t, out.String(), "Original security groups: sg-web")
}

func TestRunIsolate_ConfiguredRegionWhenEventHasNone(t *testing.T) {
	env := newTestEnv()
	hook := newWebhook(t, http.StatusOK)
	bare := `{"id":"f-1","type":"Recon:EC2/Portscan","severity":2,"resource":{"resourceType":"AccessKey"}}`

	res, err := runIsolate(context.Background(), env.provider, testApp(hook.srv.URL), strings.NewReader(bare), io.Discard, "json")
	require.NoError(t, err)
	assert.Equal(t, "eu-west-2", env.provider.lastRegion)
	assert.True(t, res.Skipped)
	assert.Equal(t, 0, env.ec2.Mutations())
	assert.Empty(t, hook.posts())
}

func TestRunIsolate_InvalidEvent(t *testing.T) {
	env := newTestEnv()
	_, err := runIsolate(context.Background(), env.provider, testApp(""), strings.NewReader("[1,2]"), io.Discard, "json")
	assert.ErrorIs(t, err, engine.ErrInvalidEvent)
	assert.Empty(t, env.provider.lastRegion, "no AWS call for an undecodable event")
}

func TestRunIsolate_FatalErrorSendsOneAlert(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")
	env.ec2.Fail(isolationtest.OpModifyInstance, isolationtest.APIError("UnauthorizedOperation"))
	hook := newWebhook(t, http.StatusOK)

	var out bytes.Buffer
	_, err := runIsolate(context.Background(), env.provider, testApp(hook.srv.URL), strings.NewReader(isolateEvent), &out, "json")
	require.Error(t, err)
	assert.Equal(t, engine.KindPartialIsolation, engine.KindOf(err))
	assert.Len(t, hook.posts(), 1)
	assert.Empty(t, out.String(), "no result is printed for a fatal error")
}

func TestRunIsolate_MissingWebhookIsWarning(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")

	res, err := runIsolate(context.Background(), env.provider, testApp(""), strings.NewReader(isolateEvent), io.Discard, "json")
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, engine.KindConfiguration, res.Warnings[0].Kind)
}

func TestRunIsolate_ProfileError(t *testing.T) {
	env := newTestEnv()
	env.provider.profileErr = errors.New("no credentials")
	_, err := runIsolate(context.Background(), env.provider, testApp(""), strings.NewReader(isolateEvent), io.Discard, "json")
	assert.ErrorContains(t, err, "no credentials")
}

func TestNewOrchestrator_UsesPolicy(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")
	a := testApp("")
	a.pol.Quarantine.GroupName = "ir-quarantine"
	a.pol.IsolatedBy = "SecOps"

	orch, err := newOrchestrator(a, env.provider.profileResult.Clients, "eu-west-2", nil)
	require.NoError(t, err)
	_, err = orch.Isolate(context.Background(), models.Finding{
		ID:       "f-1",
		Resource: models.Resource{InstanceDetails: &models.InstanceDetails{InstanceID: "i-0abc"}},
	})
	require.NoError(t, err)

	_, ok := env.ec2.Group("ir-quarantine")
	assert.True(t, ok)
	assert.Equal(t, "SecOps", env.ec2.Tags("i-0abc")[models.TagIsolatedBy])
}

func TestNewOrchestrator_EnforceEmptyFromPolicy(t *testing.T) {
	for _, enforce := range []bool{false, true} {
		env := newTestEnv()
		env.ec2.AddGroup("guardduty-isolation-sg", isolationtest.DefaultEgress())
		env.ec2.AddInstance("i-0abc", "sg-web")
		a := testApp("")
		a.pol.Quarantine.EnforceEmpty = enforce

		orch, err := newOrchestrator(a, env.provider.profileResult.Clients, "eu-west-2", nil)
		require.NoError(t, err)
		_, err = orch.Isolate(context.Background(), models.Finding{
			ID:       "f-1",
			Resource: models.Resource{InstanceDetails: &models.InstanceDetails{InstanceID: "i-0abc"}},
		})
		require.NoError(t, err)

		g, ok := env.ec2.Group("guardduty-isolation-sg")
		require.True(t, ok)
		if enforce {
			assert.Empty(t, g.Egress, "enforce_empty must strip the group")
		} else {
			assert.Len(t, g.Egress, 1, "existing group must be left as is")
		}
	}
}

func TestNewOrchestrator_BadSamplePattern(t *testing.T) {
	a := testApp("")
	a.pol.SamplePatterns = []string{"("}
	_, err := newOrchestrator(a, newTestEnv().provider.profileResult.Clients, "eu-west-2", nil)
	assert.Error(t, err)
}

// ── findings ──────────────────────────────────────────────────────────────────

func sdkFinding(id string, severity float64) guarddutytype.Finding {
	return guarddutytype.Finding{
		Id:          aws.String(id),
		Type:        aws.String("UnauthorizedAccess:EC2/SSHBruteForce"),
		Severity:    aws.Float64(severity),
		Title:       aws.String("SSH brute force against i-0abc"),
		Description: aws.String("198.51.100.7 is performing SSH brute force attacks"),
		UpdatedAt:   aws.String("2026-03-01T12:00:00.000Z"),
		CreatedAt:   aws.String("2026-03-01T11:00:00.000Z"),
		Resource: &guarddutytype.Resource{
			ResourceType:    aws.String("Instance"),
			InstanceDetails: &guarddutytype.InstanceDetails{InstanceId: aws.String("i-0abc")},
		},
		Service: &guarddutytype.Service{Count: aws.Int32(3), Archived: aws.Bool(false)},
	}
}

func TestRunFindingsList_Table(t *testing.T) {
	env := newTestEnv()
	env.gd.findings = []guarddutytype.Finding{sdkFinding("f-1", 8), sdkFinding("f-2", 2)}

	var out bytes.Buffer
	err := runFindingsList(context.Background(), env.provider, testApp(""), &out, "", 0, "table", output.TableOptions{})
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Detector: det-1  Findings: 2")
	assert.Contains(t, s, "FINDING ID")
	assert.Contains(t, s, "f-1")
	assert.Contains(t, s, "f-2")
	assert.Contains(t, s, "2 findings")
}

func TestRunFindingsList_EmptyPrintsTip(t *testing.T) {
	env := newTestEnv()

	var out bytes.Buffer
	err := runFindingsList(context.Background(), env.provider, testApp(""), &out, "det-9", 0, "table", output.TableOptions{})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "No findings.")
	assert.Contains(t, out.String(), "aws guardduty create-sample-findings --detector-id det-9")
}

func TestRunFindingsList_JSON(t *testing.T) {
	env := newTestEnv()
	env.gd.findings = []guarddutytype.Finding{sdkFinding("f-1", 8)}

	var out bytes.Buffer
	require.NoError(t, runFindingsList(context.Background(), env.provider, testApp(""), &out, "", 0, "json", output.TableOptions{}))

	var got []models.FindingSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, models.SeverityHigh, got[0].Label)
	assert.Equal(t, "Instance", got[0].ResourceType)
}

func TestRunFindingsList_NoDetector(t *testing.T) {
	env := newTestEnv()
	env.gd.detectors = nil
	err := runFindingsList(context.Background(), env.provider, testApp(""), io.Discard, "", 0, "table", output.TableOptions{})
	assert.ErrorIs(t, err, awsguardduty.ErrNoDetector)
}

func TestRunFindingsInvestigate_JSON(t *testing.T) {
	env := newTestEnv()
	env.gd.findings = []guarddutytype.Finding{sdkFinding("f-1", 8)}

	var out bytes.Buffer
	require.NoError(t, runFindingsInvestigate(context.Background(), env.provider, testApp(""), &out, "", "f-1", "json"))

	var inv models.Investigation
	require.NoError(t, json.Unmarshal(out.Bytes(), &inv))
	assert.Equal(t, "i-0abc", inv.Resource.InstanceID)
	assert.Equal(t, 3, inv.Timeline.Count)
}

func TestRunFindingsInvestigate_NotFound(t *testing.T) {
	env := newTestEnv()
	err := runFindingsInvestigate(context.Background(), env.provider, testApp(""), io.Discard, "det-1", "missing", "text")
	assert.ErrorIs(t, err, awsguardduty.ErrFindingNotFound)
}

// ── serve region routing ──────────────────────────────────────────────────────

func regionalFinding(id, instanceID, region string) models.Finding {
	return models.Finding{
		ID:       id,
		Region:   region,
		Resource: models.Resource{InstanceDetails: &models.InstanceDetails{InstanceID: instanceID}},
	}
}

func TestRegionRouter_LoadsClientsPerRegionOnce(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")
	env.ec2.AddInstance("i-0def", "sg-db")
	a := testApp("")

	var built []string
	router := newRegionRouter("eu-west-2", func(ctx context.Context, region string) (*engine.Orchestrator, error) {
		built = append(built, region)
		pc, err := env.provider.LoadProfile(ctx, "", region)
		if err != nil {
			return nil, err
		}
		return newOrchestrator(a, pc.Clients, pc.Region, nil)
	}, zerolog.Nop())

	for _, id := range []string{"i-0abc", "i-0def"} {
		res, err := router.Isolate(context.Background(), regionalFinding("f-"+id, id, "us-east-1"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, res.StatusCode)
	}

	assert.Equal(t, []string{"us-east-1"}, built, "clients are loaded once per region")
	assert.Equal(t, "us-east-1", env.provider.lastRegion)
	group, ok := env.ec2.Group("guardduty-isolation-sg")
	require.True(t, ok)
	assert.Equal(t, []string{group.ID}, env.ec2.Membership("i-0def"))
}

func TestRegionRouter_NoRegionUsesHome(t *testing.T) {
	env := newTestEnv()
	env.ec2.AddInstance("i-0abc", "sg-web")
	home, err := newOrchestrator(testApp(""), env.provider.profileResult.Clients, "eu-west-2", nil)
	require.NoError(t, err)

	router := newRegionRouter("eu-west-2", func(context.Context, string) (*engine.Orchestrator, error) {
		t.Fatal("home region must not be rebuilt")
		return nil, nil
	}, zerolog.Nop())
	router.add("eu-west-2", home)

	_, err = router.Isolate(context.Background(), regionalFinding("f-1", "i-0abc", ""))
	require.NoError(t, err)
	assert.Equal(t, "sg-web", env.ec2.Tags("i-0abc")[models.TagOriginalSecurityGroups])
}

func TestRegionRouter_LoadFailureIsControlPlaneError(t *testing.T) {
	env := newTestEnv()
	router := newRegionRouter("eu-west-2", func(context.Context, string) (*engine.Orchestrator, error) {
		return nil, errors.New("region ap-east-1 is not enabled")
	}, zerolog.Nop())

	_, err := router.Isolate(context.Background(), regionalFinding("f-1", "i-0abc", "ap-east-1"))
	require.Error(t, err)
	assert.Equal(t, engine.KindControlPlane, engine.KindOf(err))
	assert.Contains(t, err.Error(), "not enabled")
	assert.Zero(t, env.ec2.Mutations())
}

// ── helpers ───────────────────────────────────────────────────────────────────

func TestApplyFlagOverrides(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--profile", "sec", "--region", "us-east-1", "--policy", "ir.yaml"}))

	cfg := &config.Config{AWS: config.AWSConfig{Region: "eu-west-2", Profile: "env"}, PolicyFile: "gr.yaml"}
	cfg.Logging.Level = "warn"
	applyFlagOverrides(cmd, cfg)

	assert.Equal(t, "sec", cfg.AWS.Profile)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "ir.yaml", cfg.PolicyFile)
	assert.Equal(t, "warn", cfg.Logging.Level, "unset flags leave config alone")
}

func TestLoadPolicy(t *testing.T) {
	tmp := t.TempDir()

	pol, err := loadPolicy(filepath.Join(tmp, "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "guardduty-isolation-sg", pol.Quarantine.GroupName)

	bad := filepath.Join(tmp, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("version: 1\nquarantine:\n  group_name: sg-nope\n"), 0644))
	_, err = loadPolicy(bad)
	assert.ErrorContains(t, err, "must not start with sg-")
}

func TestWriteReportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.md")
	err := writeReportToFile(path, func(w io.Writer) error {
		_, err := io.WriteString(w, "# report\n")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# report\n", string(data))

	assert.Error(t, writeReportToFile(filepath.Join(t.TempDir(), "missing", "r.md"), func(io.Writer) error { return nil }))
}

func TestOpenInput(t *testing.T) {
	rc, err := openInput("-", strings.NewReader("stdin"))
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "stdin", string(data))

	_, err = openInput(filepath.Join(t.TempDir(), "nope.json"), nil)
	assert.Error(t, err)
}

func TestMetricsMux(t *testing.T) {
	prom := metrics.NewPrometheus()
	prom.IncEventsReceived()
	mux := metricsMux(prom)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "guardrail_events_received_total 1")
}
