package awsguardduty

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	guarddutytype "github.com/aws/aws-sdk-go-v2/service/guardduty/types"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// toFinding converts an SDK finding into the event-shaped models.Finding so
// the CLI and the isolation flow share one representation.
func toFinding(f guarddutytype.Finding) models.Finding {
	out := models.Finding{
		ID:          aws.ToString(f.Id),
		Type:        aws.ToString(f.Type),
		Severity:    aws.ToFloat64(f.Severity),
		Confidence:  aws.ToFloat64(f.Confidence),
		Title:       aws.ToString(f.Title),
		Description: aws.ToString(f.Description),
		AccountID:   aws.ToString(f.AccountId),
		Region:      aws.ToString(f.Region),
		CreatedAt:   aws.ToString(f.CreatedAt),
		UpdatedAt:   aws.ToString(f.UpdatedAt),
	}

	if r := f.Resource; r != nil {
		out.Resource.ResourceType = aws.ToString(r.ResourceType)
		if d := r.InstanceDetails; d != nil {
			det := &models.InstanceDetails{
				InstanceID:   aws.ToString(d.InstanceId),
				InstanceType: aws.ToString(d.InstanceType),
				Platform:     aws.ToString(d.Platform),
			}
			for _, t := range d.Tags {
				det.Tags = append(det.Tags, models.Tag{Key: aws.ToString(t.Key), Value: aws.ToString(t.Value)})
			}
			out.Resource.InstanceDetails = det
		}
	}

	if s := f.Service; s != nil {
		out.Service.Count = int(aws.ToInt32(s.Count))
		out.Service.Archived = aws.ToBool(s.Archived)
		if a := s.Action; a != nil {
			out.Service.Action = &models.Action{
				ActionType:              aws.ToString(a.ActionType),
				NetworkConnectionAction: toNetworkAction(a.NetworkConnectionAction),
			}
		}
	}
	return out
}

func toNetworkAction(nc *guarddutytype.NetworkConnectionAction) *models.NetworkConnectionAction {
	if nc == nil {
		return nil
	}
	out := &models.NetworkConnectionAction{
		Protocol:            aws.ToString(nc.Protocol),
		ConnectionDirection: aws.ToString(nc.ConnectionDirection),
		Blocked:             aws.ToBool(nc.Blocked),
	}
	if p := nc.LocalPortDetails; p != nil {
		out.LocalPortDetails = &models.LocalPortDetails{
			Port:     int(aws.ToInt32(p.Port)),
			PortName: aws.ToString(p.PortName),
		}
	}
	if r := nc.RemoteIpDetails; r != nil {
		rd := &models.RemoteIPDetails{IPAddressV4: aws.ToString(r.IpAddressV4)}
		if c := r.Country; c != nil {
			rd.Country = &models.Country{CountryCode: aws.ToString(c.CountryCode), CountryName: aws.ToString(c.CountryName)}
		}
		if o := r.Organization; o != nil {
			rd.Organization = &models.Organization{
				Asn:    aws.ToString(o.Asn),
				AsnOrg: aws.ToString(o.AsnOrg),
				Isp:    aws.ToString(o.Isp),
				Org:    aws.ToString(o.Org),
			}
		}
		out.RemoteIPDetails = rd
	}
	return out
}
