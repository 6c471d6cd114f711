package awsisolation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// Capturer reads an instance's security group membership before it is
// replaced.
type Capturer struct {
	client describeInstancesAPIClient
}

// NewCapturer returns a Capturer backed by client.
func NewCapturer(client describeInstancesAPIClient) *Capturer {
	return &Capturer{client: client}
}

// Capture returns the instance's current security groups in attachment
// order, together with its tags and lifecycle state. Membership is never
// nil. An unknown or malformed instance ID yields ErrInstanceNotFound.
func (c *Capturer) Capture(ctx context.Context, instanceID string) (models.InstanceSnapshot, error) {
	out, err := c.client.DescribeInstances(ctx, &ec2svc.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		switch apiErrorCode(err) {
		case codeInstanceNotFound, codeInstanceMalformed:
			return models.InstanceSnapshot{}, fmt.Errorf("describe instance %s: %w", instanceID, ErrInstanceNotFound)
		}
		return models.InstanceSnapshot{}, fmt.Errorf("describe instance %s: %w", instanceID, err)
	}

	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) != instanceID {
				continue
			}
			snap := models.InstanceSnapshot{
				InstanceID: instanceID,
				Membership: make(models.Membership, 0, len(inst.SecurityGroups)),
				Tags:       make(map[string]string, len(inst.Tags)),
			}
			if inst.State != nil {
				snap.State = string(inst.State.Name)
			}
			for _, g := range inst.SecurityGroups {
				snap.Membership = append(snap.Membership, aws.ToString(g.GroupId))
			}
			for _, t := range inst.Tags {
				snap.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
			}
			return snap, nil
		}
	}
	return models.InstanceSnapshot{}, fmt.Errorf("describe instance %s: %w", instanceID, ErrInstanceNotFound)
}
