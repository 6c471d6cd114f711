package awsisolation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
)

// Executor replaces an instance's security group membership.
type Executor struct {
	client modifyInstanceAPIClient
}

// NewExecutor returns an Executor backed by client.
func NewExecutor(client modifyInstanceAPIClient) *Executor {
	return &Executor{client: client}
}

// Apply sets groupID as the instance's only security group. Every other
// group is detached. Call only after the pre-isolation membership has been
// captured: this is the single destructive step of an isolation.
func (e *Executor) Apply(ctx context.Context, instanceID, groupID string) error {
	_, err := e.client.ModifyInstanceAttribute(ctx, &ec2svc.ModifyInstanceAttributeInput{
		InstanceId: aws.String(instanceID),
		Groups:     []string{groupID},
	})
	if err != nil {
		return fmt.Errorf("set security groups of %s to [%s]: %w", instanceID, groupID, err)
	}
	return nil
}
