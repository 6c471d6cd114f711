package awsisolation

import (
	"context"

	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
)

// groupAPIClient is the narrow EC2 interface used by QuarantineManager.
// common.EC2Client satisfies it.
type groupAPIClient interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2svc.DescribeSecurityGroupsInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeSecurityGroupsOutput, error)
	CreateSecurityGroup(ctx context.Context, params *ec2svc.CreateSecurityGroupInput, optFns ...func(*ec2svc.Options)) (*ec2svc.CreateSecurityGroupOutput, error)
	RevokeSecurityGroupEgress(ctx context.Context, params *ec2svc.RevokeSecurityGroupEgressInput, optFns ...func(*ec2svc.Options)) (*ec2svc.RevokeSecurityGroupEgressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2svc.RevokeSecurityGroupIngressInput, optFns ...func(*ec2svc.Options)) (*ec2svc.RevokeSecurityGroupIngressOutput, error)
}

// describeInstancesAPIClient is the narrow EC2 interface used by Capturer.
type describeInstancesAPIClient interface {
	DescribeInstances(ctx context.Context, params *ec2svc.DescribeInstancesInput, optFns ...func(*ec2svc.Options)) (*ec2svc.DescribeInstancesOutput, error)
}

// modifyInstanceAPIClient is the narrow EC2 interface used by Executor.
type modifyInstanceAPIClient interface {
	ModifyInstanceAttribute(ctx context.Context, params *ec2svc.ModifyInstanceAttributeInput, optFns ...func(*ec2svc.Options)) (*ec2svc.ModifyInstanceAttributeOutput, error)
}

// createTagsAPIClient is the narrow EC2 interface used by Recorder.
type createTagsAPIClient interface {
	CreateTags(ctx context.Context, params *ec2svc.CreateTagsInput, optFns ...func(*ec2svc.Options)) (*ec2svc.CreateTagsOutput, error)
}
