package models

import "strings"

// Severity is the banded label for a GuardDuty severity score.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// SeverityFromScore maps a 0–10 GuardDuty score onto a Severity band.
// Bands follow the GuardDuty console: 9.0+ critical, 7.0–8.9 high,
// 4.0–6.9 medium, 1.0–3.9 low. Anything lower is informational.
func SeverityFromScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	case score >= 1.0:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// ResourceTypeInstance is the GuardDuty resource type for EC2 findings.
const ResourceTypeInstance = "Instance"

// Finding is a GuardDuty finding as delivered in the detail of an
// EventBridge event or returned by GetFindings.
//
// JSON tags use GuardDuty's camelCase names. encoding/json matches keys
// case-insensitively, so PascalCase payloads decode into the same struct.
type Finding struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Severity    float64  `json:"severity"`
	Confidence  float64  `json:"confidence,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AccountID   string   `json:"accountId,omitempty"`
	Region      string   `json:"region,omitempty"`
	Resource    Resource `json:"resource"`
	Service     Service  `json:"service"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Resource describes the AWS resource a finding is about.
type Resource struct {
	ResourceType    string           `json:"resourceType,omitempty"`
	InstanceDetails *InstanceDetails `json:"instanceDetails,omitempty"`
}

// InstanceDetails is populated when the affected resource is an EC2 instance.
type InstanceDetails struct {
	InstanceID   string `json:"instanceId,omitempty"`
	InstanceType string `json:"instanceType,omitempty"`
	Platform     string `json:"platform,omitempty"`
	Tags         []Tag  `json:"tags,omitempty"`
}

// Tag is a key/value pair attached to an AWS resource.
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Service carries GuardDuty's detection context for a finding.
type Service struct {
	Count    int     `json:"count,omitempty"`
	Archived bool    `json:"archived"`
	Action   *Action `json:"action,omitempty"`
}

// Action describes the activity that triggered the finding.
type Action struct {
	ActionType              string                   `json:"actionType,omitempty"`
	NetworkConnectionAction *NetworkConnectionAction `json:"networkConnectionAction,omitempty"`
}

// NetworkConnectionAction holds the remote peer of a suspicious connection.
type NetworkConnectionAction struct {
	Protocol            string            `json:"protocol,omitempty"`
	ConnectionDirection string            `json:"connectionDirection,omitempty"`
	Blocked             bool              `json:"blocked,omitempty"`
	RemoteIPDetails     *RemoteIPDetails  `json:"remoteIpDetails,omitempty"`
	LocalPortDetails    *LocalPortDetails `json:"localPortDetails,omitempty"`
}

// RemoteIPDetails identifies the remote side of a network connection.
type RemoteIPDetails struct {
	IPAddressV4  string        `json:"ipAddressV4,omitempty"`
	Country      *Country      `json:"country,omitempty"`
	Organization *Organization `json:"organization,omitempty"`
}

// Country is the geolocation of a remote IP.
type Country struct {
	CountryCode string `json:"countryCode,omitempty"`
	CountryName string `json:"countryName,omitempty"`
}

// Organization is the network owner of a remote IP.
type Organization struct {
	Asn    string `json:"asn,omitempty"`
	AsnOrg string `json:"asnOrg,omitempty"`
	Isp    string `json:"isp,omitempty"`
	Org    string `json:"org,omitempty"`
}

// LocalPortDetails identifies the local port involved in a connection.
type LocalPortDetails struct {
	Port     int    `json:"port,omitempty"`
	PortName string `json:"portName,omitempty"`
}

// InstanceID returns the EC2 instance identifier named by the finding, or ""
// when the finding is not about an instance.
func (f Finding) InstanceID() string {
	if f.Resource.InstanceDetails == nil {
		return ""
	}
	return strings.TrimSpace(f.Resource.InstanceDetails.InstanceID)
}

// SeverityLabel returns the banded severity of the finding.
func (f Finding) SeverityLabel() Severity {
	return SeverityFromScore(f.Severity)
}

// FindingSummary is the compact listing form of a finding.
type FindingSummary struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Severity     float64  `json:"severity"`
	Label        Severity `json:"severity_label"`
	Title        string   `json:"title"`
	ResourceType string   `json:"resource"`
	UpdatedAt    string   `json:"time"`
}

// Summarize converts a full finding into its listing form.
func (f Finding) Summarize() FindingSummary {
	return FindingSummary{
		ID:           f.ID,
		Type:         f.Type,
		Severity:     f.Severity,
		Label:        f.SeverityLabel(),
		Title:        f.Title,
		ResourceType: f.Resource.ResourceType,
		UpdatedAt:    f.UpdatedAt,
	}
}
