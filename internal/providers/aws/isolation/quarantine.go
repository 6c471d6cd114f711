// Package awsisolation implements EC2 network containment: the quarantine
// security group, pre-isolation membership capture, membership replacement
// and restoration tagging.
//
// Every component is constructed with a narrow EC2 client interface so the
// orchestrator can be exercised end-to-end against an in-memory fake.
package awsisolation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/rs/zerolog"
)

// Defaults for the quarantine group identity.
const (
	DefaultGroupName   = "guardduty-isolation-sg"
	DefaultDescription = "Isolation security group for compromised instances"
)

// QuarantineSpec identifies the quarantine security group.
type QuarantineSpec struct {
	// GroupName is the fixed, well-known name the group is looked up by.
	GroupName string

	// Description is set on creation only.
	Description string

	// VpcID scopes lookup and creation to one VPC. Empty means the
	// account's default VPC.
	VpcID string

	// EnforceEmpty revokes every rule found on an existing group. When
	// false an existing group is used as is and rules are only logged.
	EnforceEmpty bool
}

// QuarantineManager ensures the quarantine group exists. A group it creates
// has no ingress and no egress rules.
type QuarantineManager struct {
	client groupAPIClient
	spec   QuarantineSpec
	log    zerolog.Logger
}

// NewQuarantineManager returns a QuarantineManager. Empty spec fields fall
// back to DefaultGroupName and DefaultDescription.
func NewQuarantineManager(client groupAPIClient, spec QuarantineSpec, log zerolog.Logger) *QuarantineManager {
	if spec.GroupName == "" {
		spec.GroupName = DefaultGroupName
	}
	if spec.Description == "" {
		spec.Description = DefaultDescription
	}
	return &QuarantineManager{
		client: client,
		spec:   spec,
		log:    log.With().Str("component", "quarantine").Str("group_name", spec.GroupName).Logger(),
	}
}

// GroupName returns the name the manager looks the group up by.
func (m *QuarantineManager) GroupName() string { return m.spec.GroupName }

// Lookup returns the quarantine group ID without mutating anything.
// It returns ErrGroupNotFound when the group does not exist; every other
// failure (throttling, access denied, transport) is returned wrapped.
func (m *QuarantineManager) Lookup(ctx context.Context) (string, error) {
	sg, err := m.lookup(ctx)
	if err != nil {
		return "", err
	}
	return aws.ToString(sg.GroupId), nil
}

// Ensure returns the quarantine group ID, creating the group when absent.
//
// A freshly created group has its default allow-all egress rule revoked.
// An existing group is not modified unless EnforceEmpty is set. A
// concurrent creator winning the race surfaces as InvalidGroup.Duplicate,
// which is resolved by looking the group up again.
func (m *QuarantineManager) Ensure(ctx context.Context) (string, error) {
	sg, err := m.lookup(ctx)
	switch {
	case err == nil:
		return m.existing(ctx, sg)
	case errors.Is(err, ErrGroupNotFound):
		return m.create(ctx)
	default:
		return "", err
	}
}

func (m *QuarantineManager) lookup(ctx context.Context) (ec2types.SecurityGroup, error) {
	in := &ec2svc.DescribeSecurityGroupsInput{}
	if m.spec.VpcID == "" {
		in.GroupNames = []string{m.spec.GroupName}
	} else {
		in.Filters = []ec2types.Filter{
			{Name: aws.String("group-name"), Values: []string{m.spec.GroupName}},
			{Name: aws.String("vpc-id"), Values: []string{m.spec.VpcID}},
		}
	}

	out, err := m.client.DescribeSecurityGroups(ctx, in)
	if err != nil {
		if apiErrorCode(err) == codeGroupNotFound {
			return ec2types.SecurityGroup{}, ErrGroupNotFound
		}
		return ec2types.SecurityGroup{}, fmt.Errorf("describe security group %q: %w", m.spec.GroupName, err)
	}
	if len(out.SecurityGroups) == 0 {
		return ec2types.SecurityGroup{}, ErrGroupNotFound
	}
	return out.SecurityGroups[0], nil
}

func (m *QuarantineManager) create(ctx context.Context) (string, error) {
	in := &ec2svc.CreateSecurityGroupInput{
		GroupName:   aws.String(m.spec.GroupName),
		Description: aws.String(m.spec.Description),
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeSecurityGroup,
			Tags:         []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String(m.spec.GroupName)}},
		}},
	}
	if m.spec.VpcID != "" {
		in.VpcId = aws.String(m.spec.VpcID)
	}

	out, err := m.client.CreateSecurityGroup(ctx, in)
	if err != nil {
		if apiErrorCode(err) != codeGroupDuplicate {
			return "", fmt.Errorf("create security group %q: %w", m.spec.GroupName, err)
		}
		m.log.Info().Msg("quarantine group created concurrently; re-resolving")
		sg, lerr := m.lookup(ctx)
		if lerr != nil {
			return "", fmt.Errorf("re-resolve security group %q after duplicate create: %w", m.spec.GroupName, lerr)
		}
		// The group was created moments ago; the winner may not have
		// revoked its default egress yet.
		id := aws.ToString(sg.GroupId)
		if err := m.revokeDefaultEgress(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}

	id := aws.ToString(out.GroupId)
	if err := m.revokeDefaultEgress(ctx, id); err != nil {
		return "", err
	}

	m.log.Info().Str("group_id", id).Msg("created quarantine group")
	return id, nil
}

// existing returns the ID of a group found by lookup. Rules on it are
// revoked only when EnforceEmpty is set.
func (m *QuarantineManager) existing(ctx context.Context, sg ec2types.SecurityGroup) (string, error) {
	id := aws.ToString(sg.GroupId)
	rules := len(sg.IpPermissions) + len(sg.IpPermissionsEgress)
	if rules > 0 && !m.spec.EnforceEmpty {
		m.log.Warn().
			Str("group_id", id).
			Int("ingress_rules", len(sg.IpPermissions)).
			Int("egress_rules", len(sg.IpPermissionsEgress)).
			Msg("quarantine group has rules; instances will not be fully isolated")
		return id, nil
	}
	if err := m.strip(ctx, sg); err != nil {
		return "", err
	}
	m.log.Debug().Str("group_id", id).Msg("using existing quarantine group")
	return id, nil
}

func (m *QuarantineManager) revokeDefaultEgress(ctx context.Context, id string) error {
	_, err := m.client.RevokeSecurityGroupEgress(ctx, &ec2svc.RevokeSecurityGroupEgressInput{
		GroupId:       aws.String(id),
		IpPermissions: []ec2types.IpPermission{allTraffic()},
	})
	if err != nil && apiErrorCode(err) != codePermissionNotFound {
		return fmt.Errorf("revoke default egress on %s: %w", id, err)
	}
	return nil
}

// strip revokes every ingress and egress rule present on sg.
func (m *QuarantineManager) strip(ctx context.Context, sg ec2types.SecurityGroup) error {
	id := aws.ToString(sg.GroupId)

	if len(sg.IpPermissionsEgress) > 0 {
		m.log.Warn().Str("group_id", id).Int("rules", len(sg.IpPermissionsEgress)).Msg("quarantine group has egress rules; revoking")
		_, err := m.client.RevokeSecurityGroupEgress(ctx, &ec2svc.RevokeSecurityGroupEgressInput{
			GroupId:       aws.String(id),
			IpPermissions: sg.IpPermissionsEgress,
		})
		if err != nil && apiErrorCode(err) != codePermissionNotFound {
			return fmt.Errorf("revoke egress on %s: %w", id, err)
		}
	}

	if len(sg.IpPermissions) > 0 {
		m.log.Warn().Str("group_id", id).Int("rules", len(sg.IpPermissions)).Msg("quarantine group has ingress rules; revoking")
		_, err := m.client.RevokeSecurityGroupIngress(ctx, &ec2svc.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(id),
			IpPermissions: sg.IpPermissions,
		})
		if err != nil && apiErrorCode(err) != codePermissionNotFound {
			return fmt.Errorf("revoke ingress on %s: %w", id, err)
		}
	}
	return nil
}

// allTraffic is the default egress rule EC2 attaches to new groups.
func allTraffic() ec2types.IpPermission {
	return ec2types.IpPermission{
		IpProtocol: aws.String("-1"),
		IpRanges:   []ec2types.IpRange{{CidrIp: aws.String("0.0.0.0/0")}},
	}
}
