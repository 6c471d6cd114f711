package common

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// DefaultRegion is used when neither the caller nor the shared config names
// a region.
const DefaultRegion = "eu-west-2"

// ProfileConfig is a resolved AWS profile with its SDK configuration and
// initialised service clients. It is the unit handed to the isolation,
// findings and evidence components.
type ProfileConfig struct {
	// ProfileName is the name from ~/.aws/credentials or "default".
	ProfileName string

	// AccountID is the resolved AWS account ID for this profile (via STS).
	AccountID string

	// Region is the region every client in Clients is scoped to.
	Region string

	// Config is the fully loaded AWS SDK v2 configuration.
	Config aws.Config

	// Clients holds initialised service clients scoped to Region.
	Clients *ClientSet
}

// AWSClientProvider loads AWS configurations. It is the sole entry point for
// AWS credential and region management across the provider layer.
//
// Implementations must use the AWS SDK v2 only. Never call the aws CLI.
type AWSClientProvider interface {
	// LoadProfile returns a ProfileConfig for the named profile in region.
	// An empty profile selects the default credential chain; an empty
	// region selects the profile's region, then DefaultRegion.
	LoadProfile(ctx context.Context, profile, region string) (*ProfileConfig, error)
}
