package awsisolation

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2svc "github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// Recorder writes the restoration record onto an isolated instance.
type Recorder struct {
	client createTagsAPIClient
}

// NewRecorder returns a Recorder backed by client.
func NewRecorder(client createTagsAPIClient) *Recorder {
	return &Recorder{client: client}
}

// Record writes every tag of rec in a single CreateTags call, so either the
// whole record lands or none of it does.
func (r *Recorder) Record(ctx context.Context, instanceID string, rec models.IsolationRecord) error {
	pairs := rec.Tags()
	tags := make([]ec2types.Tag, 0, len(pairs))
	for _, p := range pairs {
		tags = append(tags, ec2types.Tag{Key: aws.String(p.Key), Value: aws.String(p.Value)})
	}

	_, err := r.client.CreateTags(ctx, &ec2svc.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      tags,
	})
	if err != nil {
		return fmt.Errorf("tag %s with isolation record: %w", instanceID, err)
	}
	return nil
}
