package engine

import (
	"context"
	"regexp"
	"time"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/notify"
)

// Isolator is the central orchestration interface. One call handles one
// finding event from receipt to notification.
//
// Isolator must not call the AWS SDK or the webhook directly; it delegates
// to the collaborator interfaces below.
type Isolator interface {
	Isolate(ctx context.Context, f models.Finding) (*Result, error)
}

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// QuarantineEnsurer returns the ID of the quarantine group, creating it if
// needed.
type QuarantineEnsurer interface {
	Ensure(ctx context.Context) (string, error)
}

// MembershipCapturer snapshots an instance before it is modified.
type MembershipCapturer interface {
	Capture(ctx context.Context, instanceID string) (models.InstanceSnapshot, error)
}

// IsolationApplier replaces an instance's membership with the quarantine group.
type IsolationApplier interface {
	Apply(ctx context.Context, instanceID, groupID string) error
}

// IsolationRecorder writes restoration metadata onto the instance.
type IsolationRecorder interface {
	Record(ctx context.Context, instanceID string, rec models.IsolationRecord) error
}

// Notifier delivers an alert.
type Notifier interface {
	Notify(ctx context.Context, p notify.Payload) error
}

// EvidenceArchiver stores a copy of the isolation for later audit. Optional.
type EvidenceArchiver interface {
	Archive(ctx context.Context, rec models.EvidenceRecord) (string, error)
}

// OutcomeObserver receives one observation per handled event. Optional.
type OutcomeObserver interface {
	ObserveIsolation(ctx context.Context, outcome string, elapsed time.Duration)
}

// Dependencies bundles the collaborators an Orchestrator drives.
// Evidence and Metrics may be nil.
type Dependencies struct {
	Quarantine QuarantineEnsurer
	Capturer   MembershipCapturer
	Executor   IsolationApplier
	Recorder   IsolationRecorder
	Notifier   Notifier
	Evidence   EvidenceArchiver
	Metrics    OutcomeObserver
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Re-isolation modes for an instance that is already quarantined.
const (
	ReisolationSkip      = "skip"
	ReisolationOverwrite = "overwrite"
)

// Options configures an Orchestrator.
type Options struct {
	// Region is reported in alerts and evidence.
	Region string

	// IsolatedBy is written to the IsolatedBy tag. Defaults to "GuardDuty".
	IsolatedBy string

	// TestInstanceID, when set, replaces a missing or sample instance ID.
	TestInstanceID string

	// SamplePatterns recognise synthetic instance IDs from GuardDuty sample
	// findings.
	SamplePatterns []*regexp.Regexp

	// MinSeverity skips findings scoring below it. Zero isolates everything.
	MinSeverity float64

	// Reisolation selects the behaviour for an instance whose only group is
	// already the quarantine group: ReisolationSkip (default) or
	// ReisolationOverwrite.
	Reisolation string

	// CallTimeout bounds each remote call. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// DefaultCallTimeout bounds each control-plane and webhook call.
const DefaultCallTimeout = 10 * time.Second

// DefaultSamplePatterns match the instance IDs used by GuardDuty sample
// findings, e.g. i-99999999 and i-99999999-sample.
func DefaultSamplePatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(`^i-9+(-sample)?$`),
		regexp.MustCompile(`-sample$`),
	}
}
