package models

// Investigation is the analyst-facing breakdown of a single finding.
type Investigation struct {
	Summary        InvestigationSummary  `json:"summary"`
	Timeline       InvestigationTimeline `json:"timeline"`
	Resource       InvestigationResource `json:"resource"`
	Threat         InvestigationThreat   `json:"threat"`
	Recommendation string                `json:"recommendation"`
}

// InvestigationSummary restates what was detected.
type InvestigationSummary struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Severity    float64 `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Type        string  `json:"type"`
}

// InvestigationTimeline records when the activity was observed.
type InvestigationTimeline struct {
	FirstSeen string `json:"firstSeen"`
	LastSeen  string `json:"lastSeen"`
	Count     int    `json:"count"`
}

// InvestigationResource describes the affected resource.
type InvestigationResource struct {
	Type         string            `json:"type"`
	InstanceID   string            `json:"instanceId,omitempty"`
	InstanceType string            `json:"instanceType,omitempty"`
	Platform     string            `json:"platform,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

// InvestigationThreat describes the remote actor, when GuardDuty saw one.
type InvestigationThreat struct {
	ActionType      string `json:"actionType,omitempty"`
	AttackerIP      string `json:"attackerIP,omitempty"`
	AttackerCountry string `json:"attackerCountry,omitempty"`
	AttackerOrg     string `json:"attackerOrg,omitempty"`
	AttackerISP     string `json:"attackerISP,omitempty"`
	Port            int    `json:"port,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
}

const (
	RecommendationActive   = "This is an active finding that requires immediate attention."
	RecommendationArchived = "This finding has been archived."
)

// NewInvestigation derives an Investigation from f.
func NewInvestigation(f Finding) Investigation {
	inv := Investigation{
		Summary: InvestigationSummary{
			Title:       f.Title,
			Description: f.Description,
			Severity:    f.Severity,
			Confidence:  f.Confidence,
			Type:        f.Type,
		},
		Timeline: InvestigationTimeline{
			FirstSeen: f.CreatedAt,
			LastSeen:  f.UpdatedAt,
			Count:     f.Service.Count,
		},
		Resource: InvestigationResource{Type: f.Resource.ResourceType},
	}

	if d := f.Resource.InstanceDetails; d != nil {
		inv.Resource.InstanceID = d.InstanceID
		inv.Resource.InstanceType = d.InstanceType
		inv.Resource.Platform = d.Platform
		if len(d.Tags) > 0 {
			inv.Resource.Tags = make(map[string]string, len(d.Tags))
			for _, t := range d.Tags {
				inv.Resource.Tags[t.Key] = t.Value
			}
		}
	}

	if a := f.Service.Action; a != nil {
		inv.Threat.ActionType = a.ActionType
		if nc := a.NetworkConnectionAction; nc != nil {
			inv.Threat.Protocol = nc.Protocol
			if nc.LocalPortDetails != nil {
				inv.Threat.Port = nc.LocalPortDetails.Port
			}
			if r := nc.RemoteIPDetails; r != nil {
				inv.Threat.AttackerIP = r.IPAddressV4
				if r.Country != nil {
					inv.Threat.AttackerCountry = r.Country.CountryName
				}
				if r.Organization != nil {
					inv.Threat.AttackerOrg = r.Organization.Org
					inv.Threat.AttackerISP = r.Organization.Isp
				}
			}
		}
	}

	if f.Service.Archived {
		inv.Recommendation = RecommendationArchived
	} else {
		inv.Recommendation = RecommendationActive
	}
	return inv
}
