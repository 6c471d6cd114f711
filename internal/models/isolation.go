package models

import (
	"strings"
	"time"
)

// Tag keys written onto an isolated instance. Together they form the
// restoration record for a later manual restore.
const (
	TagIsolatedBy             = "IsolatedBy"
	TagIsolationTime          = "IsolationTime"
	TagFindingID              = "FindingId"
	TagFindingType            = "FindingType"
	TagOriginalSecurityGroups = "OriginalSecurityGroups"
)

// isoTimeLayout renders UTC timestamps with millisecond precision, e.g.
// 2026-03-01T12:00:00.000Z.
const isoTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Membership is the ordered list of security group IDs attached to an
// instance. A captured Membership is never nil.
type Membership []string

// Join serialises the membership for storage in a single tag value.
func (m Membership) Join() string {
	return strings.Join(m, ",")
}

// Equal reports whether m and other list the same groups in the same order.
func (m Membership) Equal(other Membership) bool {
	if len(m) != len(other) {
		return false
	}
	for i := range m {
		if m[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseMembership is the inverse of Membership.Join. An empty string yields
// an empty, non-nil Membership.
func ParseMembership(s string) Membership {
	out := Membership{}
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// InstanceSnapshot is the pre-isolation state of an instance.
type InstanceSnapshot struct {
	InstanceID string
	State      string
	Membership Membership
	Tags       map[string]string
}

// IsolationRecord is the restoration metadata attached to an isolated
// instance as tags.
type IsolationRecord struct {
	IsolatedBy             string     `json:"isolatedBy"`
	IsolationTime          time.Time  `json:"isolationTime"`
	FindingID              string     `json:"findingId"`
	FindingType            string     `json:"findingType"`
	OriginalSecurityGroups Membership `json:"originalSecurityGroups"`
}

// NewIsolationRecord builds the record for isolating an instance because of
// f. Missing finding fields are recorded as "unknown".
func NewIsolationRecord(f Finding, isolatedBy string, original Membership, now time.Time) IsolationRecord {
	if original == nil {
		original = Membership{}
	}
	return IsolationRecord{
		IsolatedBy:             isolatedBy,
		IsolationTime:          now.UTC(),
		FindingID:              orUnknown(f.ID),
		FindingType:            orUnknown(f.Type),
		OriginalSecurityGroups: original,
	}
}

// Tags returns the record as ordered key/value pairs.
func (r IsolationRecord) Tags() []Tag {
	return []Tag{
		{Key: TagIsolatedBy, Value: r.IsolatedBy},
		{Key: TagIsolationTime, Value: r.IsolationTime.UTC().Format(isoTimeLayout)},
		{Key: TagFindingID, Value: r.FindingID},
		{Key: TagFindingType, Value: r.FindingType},
		{Key: TagOriginalSecurityGroups, Value: r.OriginalSecurityGroups.Join()},
	}
}

// EvidenceRecord is the archived account of one isolation.
type EvidenceRecord struct {
	InstanceID        string          `json:"instanceId"`
	QuarantineGroupID string          `json:"quarantineGroupId"`
	Region            string          `json:"region"`
	Record            IsolationRecord `json:"isolation"`
	Finding           Finding         `json:"finding"`
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
