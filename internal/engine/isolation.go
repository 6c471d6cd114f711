package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/notify"
)

// State is a step of the isolation state machine.
type State string

const (
	StateReceivedEvent      State = "ReceivedEvent"
	StateInstanceResolved   State = "InstanceResolved"
	StatePolicyEnsured      State = "PolicyEnsured"
	StateMembershipCaptured State = "MembershipCaptured"
	StateIsolated           State = "Isolated"
	StateRecorded           State = "Recorded"
	StateNotified           State = "Notified"
	StateSkipped            State = "Skipped"
	StateFailed             State = "Failed"
)

// Outcomes reported to the OutcomeObserver.
const (
	OutcomeIsolated        = "isolated"
	OutcomeAlreadyIsolated = "already_isolated"
	OutcomeSkipped         = "skipped"
	OutcomeFailed          = "failed"
)

// Result messages.
const (
	MessageIsolated        = "Instance isolated successfully"
	MessageAlreadyIsolated = "Instance already isolated"
	MessageNoInstance      = "No EC2 instance in finding"
	MessageSampleNoTarget  = "Sample finding and no test instance configured"
	MessageBelowThreshold  = "Finding below isolation severity threshold"
)

// Result is returned for every event that does not fail fatally.
type Result struct {
	StatusCode      int       `json:"statusCode"`
	Body            Body      `json:"body"`
	State           State     `json:"state"`
	Skipped         bool      `json:"skipped,omitempty"`
	AlreadyIsolated bool      `json:"alreadyIsolated,omitempty"`
	Warnings        []Warning `json:"warnings,omitempty"`
}

// Body is the caller-facing summary of the outcome.
type Body struct {
	Message                string            `json:"message"`
	InstanceID             string            `json:"instanceId,omitempty"`
	OriginalSecurityGroups models.Membership `json:"originalSecurityGroups"`
}

// Orchestrator is the production Isolator. It runs one sequential flow per
// finding and holds no state between calls.
type Orchestrator struct {
	deps Dependencies
	opts Options
	log  zerolog.Logger
}

// NewOrchestrator wires deps into an Orchestrator. Zero-valued options take
// their documented defaults.
func NewOrchestrator(deps Dependencies, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.IsolatedBy == "" {
		opts.IsolatedBy = "GuardDuty"
	}
	if opts.Reisolation == "" {
		opts.Reisolation = ReisolationSkip
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SamplePatterns == nil {
		opts.SamplePatterns = DefaultSamplePatterns()
	}
	return &Orchestrator{
		deps: deps,
		opts: opts,
		log:  log.With().Str("component", "orchestrator").Logger(),
	}
}

// run carries the per-event context through the state machine.
type run struct {
	finding    models.Finding
	instanceID string
	groupID    string
	snapshot   models.InstanceSnapshot
	record     models.IsolationRecord
	warnings   []Warning
	state      State
	started    time.Time
	log        zerolog.Logger
}

// Isolate implements Isolator.
//
// A nil error means containment either succeeded or was deliberately not
// attempted (Result.Skipped). Failures before the instance is modified are
// KindControlPlane; a failed membership replacement is KindPartialIsolation.
// Both trigger exactly one failure alert whose own failure is only logged.
// Recording, evidence and notification problems after a successful
// replacement are returned as warnings.
func (o *Orchestrator) Isolate(ctx context.Context, f models.Finding) (*Result, error) {
	r := &run{finding: f, started: o.opts.Now(), log: o.log.With().Str("finding_id", f.ID).Logger()}
	o.enter(r, StateReceivedEvent)

	if o.opts.MinSeverity > 0 && f.Severity < o.opts.MinSeverity {
		return o.skip(ctx, r, MessageBelowThreshold), nil
	}

	id, reason := o.resolveInstance(f)
	if id == "" {
		return o.skip(ctx, r, reason), nil
	}
	r.instanceID = id
	r.log = r.log.With().Str("instance_id", id).Logger()
	o.enter(r, StateInstanceResolved)

	groupID, err := callValue(ctx, o.opts.CallTimeout, o.deps.Quarantine.Ensure)
	if err != nil {
		return nil, o.fail(ctx, r, KindControlPlane, "ensure quarantine group", err)
	}
	r.groupID = groupID
	o.enter(r, StatePolicyEnsured)

	snap, err := callValue(ctx, o.opts.CallTimeout, func(ctx context.Context) (models.InstanceSnapshot, error) {
		return o.deps.Capturer.Capture(ctx, id)
	})
	if err != nil {
		return nil, o.fail(ctx, r, KindControlPlane, "capture membership of", err)
	}
	if snap.Membership == nil {
		snap.Membership = models.Membership{}
	}
	r.snapshot = snap
	o.enter(r, StateMembershipCaptured)

	if o.alreadyIsolated(r) {
		return o.finishAlreadyIsolated(ctx, r), nil
	}

	err = call(ctx, o.opts.CallTimeout, func(ctx context.Context) error {
		return o.deps.Executor.Apply(ctx, id, groupID)
	})
	if err != nil {
		return nil, o.fail(ctx, r, KindPartialIsolation, "apply quarantine group to", err)
	}
	o.enter(r, StateIsolated)

	r.record = models.NewIsolationRecord(f, o.opts.IsolatedBy, snap.Membership, o.opts.Now())
	err = call(ctx, o.opts.CallTimeout, func(ctx context.Context) error {
		return o.deps.Recorder.Record(ctx, id, r.record)
	})
	if err != nil {
		r.log.Error().Err(err).Str("original_security_groups", snap.Membership.Join()).
			Msg("instance isolated but restoration record NOT written; record original groups manually")
		r.warn(KindRecordingFailed, err)
	} else {
		o.enter(r, StateRecorded)
	}

	o.archive(ctx, r)

	alert := notify.IsolationAlert(f, id, o.opts.Region, snap.Membership)
	if err := call(ctx, o.opts.CallTimeout, func(ctx context.Context) error {
		return o.deps.Notifier.Notify(ctx, alert)
	}); err != nil {
		kind := KindDeliveryFailed
		if errors.Is(err, notify.ErrNotConfigured) {
			kind = KindConfiguration
		}
		r.log.Warn().Err(err).Str("kind", string(kind)).Msg("isolation alert not delivered")
		r.warn(kind, err)
	} else {
		o.enter(r, StateNotified)
	}

	o.observe(ctx, r, OutcomeIsolated)
	r.log.Info().Str("quarantine_group", groupID).Strs("original_security_groups", snap.Membership).
		Int("warnings", len(r.warnings)).Msg("instance isolated")

	return &Result{
		StatusCode: http.StatusOK,
		State:      r.state,
		Body: Body{
			Message:                MessageIsolated,
			InstanceID:             id,
			OriginalSecurityGroups: snap.Membership,
		},
		Warnings: r.warnings,
	}, nil
}

// resolveInstance picks the instance to act on. Missing and sample IDs are
// replaced by the configured test instance; without one they resolve to ""
// and the returned reason explains why.
func (o *Orchestrator) resolveInstance(f models.Finding) (string, string) {
	id := f.InstanceID()
	sample := id != "" && o.isSample(id)

	if id != "" && !sample {
		return id, ""
	}
	if o.opts.TestInstanceID != "" {
		o.log.Info().Str("finding_instance", id).Str("test_instance", o.opts.TestInstanceID).
			Msg("redirecting to configured test instance")
		return o.opts.TestInstanceID, ""
	}
	if sample {
		return "", MessageSampleNoTarget
	}
	return "", MessageNoInstance
}

func (o *Orchestrator) isSample(id string) bool {
	for _, re := range o.opts.SamplePatterns {
		if re.MatchString(id) {
			return true
		}
	}
	return false
}

// alreadyIsolated reports whether the instance's only group is already the
// quarantine group and re-isolation should be skipped. Re-running the flow
// would overwrite OriginalSecurityGroups with the quarantine group.
func (o *Orchestrator) alreadyIsolated(r *run) bool {
	if o.opts.Reisolation == ReisolationOverwrite {
		return false
	}
	return r.snapshot.Membership.Equal(models.Membership{r.groupID})
}

func (o *Orchestrator) finishAlreadyIsolated(ctx context.Context, r *run) *Result {
	original := models.ParseMembership(r.snapshot.Tags[models.TagOriginalSecurityGroups])
	r.log.Info().Strs("recorded_original_groups", original).Msg("instance already isolated; leaving record untouched")
	o.observe(ctx, r, OutcomeAlreadyIsolated)
	return &Result{
		StatusCode:      http.StatusOK,
		State:           StateMembershipCaptured,
		AlreadyIsolated: true,
		Body: Body{
			Message:                MessageAlreadyIsolated,
			InstanceID:             r.instanceID,
			OriginalSecurityGroups: original,
		},
	}
}

func (o *Orchestrator) skip(ctx context.Context, r *run, reason string) *Result {
	r.log.Info().Str("reason", reason).Str("kind", string(KindResourceNotResolved)).Msg("finding skipped")
	o.enter(r, StateSkipped)
	o.observe(ctx, r, OutcomeSkipped)
	return &Result{
		StatusCode: http.StatusOK,
		State:      StateSkipped,
		Skipped:    true,
		Body:       Body{Message: reason, OriginalSecurityGroups: models.Membership{}},
	}
}

// fail records the Failed transition and sends the single failure alert.
func (o *Orchestrator) fail(ctx context.Context, r *run, kind Kind, op string, err error) error {
	ferr := &Error{Kind: kind, Op: op, InstanceID: r.instanceID, Err: err}
	o.enter(r, StateFailed)
	r.log.Error().Err(err).Str("kind", string(kind)).Msg("isolation failed")

	// The alert must go out even when ctx is what failed.
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
	defer cancel()
	if aerr := o.deps.Notifier.Notify(alertCtx, notify.FailureAlert(r.instanceID, ferr)); aerr != nil {
		r.log.Error().Err(aerr).Msg("failure alert not delivered")
	}

	o.observe(ctx, r, OutcomeFailed)
	return ferr
}

// archive stores evidence when an archiver is configured. Failure is a
// warning.
func (o *Orchestrator) archive(ctx context.Context, r *run) {
	if o.deps.Evidence == nil {
		return
	}
	rec := models.EvidenceRecord{
		InstanceID:        r.instanceID,
		QuarantineGroupID: r.groupID,
		Region:            o.opts.Region,
		Record:            r.record,
		Finding:           r.finding,
	}
	key, err := callValue(ctx, o.opts.CallTimeout, func(ctx context.Context) (string, error) {
		return o.deps.Evidence.Archive(ctx, rec)
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("evidence not archived")
		r.warn(KindRecordingFailed, err)
		return
	}
	r.log.Debug().Str("key", key).Msg("evidence archived")
}

func (o *Orchestrator) observe(ctx context.Context, r *run, outcome string) {
	if o.deps.Metrics == nil {
		return
	}
	o.deps.Metrics.ObserveIsolation(ctx, outcome, o.opts.Now().Sub(r.started))
}

func (o *Orchestrator) enter(r *run, s State) {
	r.state = s
	r.log.Debug().Str("state", string(s)).Msg("transition")
}

func (r *run) warn(kind Kind, err error) {
	r.warnings = append(r.warnings, Warning{Kind: kind, Message: err.Error()})
}

// call runs fn under a per-call deadline derived from ctx.
func call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}

func callValue[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
