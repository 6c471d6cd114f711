package common

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/guardduty"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ---------------------------------------------------------------------------
// Per-service client interfaces
//
// Each interface covers only the operations used by this project. Using narrow
// interfaces instead of the full SDK clients makes mocking in unit tests
// trivial: create a struct that satisfies the interface and return canned data.
// ---------------------------------------------------------------------------

// STSClient is the subset of STS operations used by the loader and doctor.
type STSClient interface {
	GetCallerIdentity(
		ctx context.Context,
		params *sts.GetCallerIdentityInput,
		optFns ...func(*sts.Options),
	) (*sts.GetCallerIdentityOutput, error)
}

// EC2Client covers the EC2 operations needed to quarantine an instance:
// security group lookup/create/revoke, instance describe, group replacement
// and tagging. The isolation package narrows it further per component.
type EC2Client interface {
	DescribeSecurityGroups(
		ctx context.Context,
		params *ec2.DescribeSecurityGroupsInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeSecurityGroupsOutput, error)

	CreateSecurityGroup(
		ctx context.Context,
		params *ec2.CreateSecurityGroupInput,
		optFns ...func(*ec2.Options),
	) (*ec2.CreateSecurityGroupOutput, error)

	RevokeSecurityGroupEgress(
		ctx context.Context,
		params *ec2.RevokeSecurityGroupEgressInput,
		optFns ...func(*ec2.Options),
	) (*ec2.RevokeSecurityGroupEgressOutput, error)

	RevokeSecurityGroupIngress(
		ctx context.Context,
		params *ec2.RevokeSecurityGroupIngressInput,
		optFns ...func(*ec2.Options),
	) (*ec2.RevokeSecurityGroupIngressOutput, error)

	DescribeInstances(
		ctx context.Context,
		params *ec2.DescribeInstancesInput,
		optFns ...func(*ec2.Options),
	) (*ec2.DescribeInstancesOutput, error)

	ModifyInstanceAttribute(
		ctx context.Context,
		params *ec2.ModifyInstanceAttributeInput,
		optFns ...func(*ec2.Options),
	) (*ec2.ModifyInstanceAttributeOutput, error)

	CreateTags(
		ctx context.Context,
		params *ec2.CreateTagsInput,
		optFns ...func(*ec2.Options),
	) (*ec2.CreateTagsOutput, error)
}

// GuardDutyClient covers detector discovery and status, and finding
// retrieval.
type GuardDutyClient interface {
	ListDetectors(
		ctx context.Context,
		params *guardduty.ListDetectorsInput,
		optFns ...func(*guardduty.Options),
	) (*guardduty.ListDetectorsOutput, error)

	GetDetector(
		ctx context.Context,
		params *guardduty.GetDetectorInput,
		optFns ...func(*guardduty.Options),
	) (*guardduty.GetDetectorOutput, error)

	ListFindings(
		ctx context.Context,
		params *guardduty.ListFindingsInput,
		optFns ...func(*guardduty.Options),
	) (*guardduty.ListFindingsOutput, error)

	GetFindings(
		ctx context.Context,
		params *guardduty.GetFindingsInput,
		optFns ...func(*guardduty.Options),
	) (*guardduty.GetFindingsOutput, error)
}

// S3Client covers evidence archive writes.
type S3Client interface {
	PutObject(
		ctx context.Context,
		params *s3.PutObjectInput,
		optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// CloudWatchClient covers custom metric publication.
type CloudWatchClient interface {
	PutMetricData(
		ctx context.Context,
		params *cloudwatch.PutMetricDataInput,
		optFns ...func(*cloudwatch.Options),
	) (*cloudwatch.PutMetricDataOutput, error)
}

// ---------------------------------------------------------------------------
// ClientSet and ClientFactory
// ---------------------------------------------------------------------------

// ClientSet holds fully initialised AWS service clients for a given profile
// and region. All fields are interfaces so they can be replaced with mocks in
// tests without importing the AWS SDK in test files.
type ClientSet struct {
	STS        STSClient
	EC2        EC2Client
	GuardDuty  GuardDutyClient
	S3         S3Client
	CloudWatch CloudWatchClient
}

// ClientFactory creates a ClientSet from an aws.Config.
// Swap this in tests to inject mock clients.
type ClientFactory func(cfg aws.Config) *ClientSet

// NewClientSet is the production ClientFactory. All clients share cfg's
// region; isolation is always performed in the region the finding came from.
func NewClientSet(cfg aws.Config) *ClientSet {
	return &ClientSet{
		STS:        sts.NewFromConfig(cfg),
		EC2:        ec2.NewFromConfig(cfg),
		GuardDuty:  guardduty.NewFromConfig(cfg),
		S3:         s3.NewFromConfig(cfg),
		CloudWatch: cloudwatch.NewFromConfig(cfg),
	}
}
