// Package awsevidence stores an audit copy of each isolation in S3.
package awsevidence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3svc "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// keyPrefix is the top-level prefix for evidence objects.
const keyPrefix = "isolations"

// keyTimeLayout is a sortable, path-safe UTC timestamp.
const keyTimeLayout = "20060102T150405Z"

// s3APIClient is the narrow S3 interface used by Archiver.
type s3APIClient interface {
	PutObject(ctx context.Context, params *s3svc.PutObjectInput, optFns ...func(*s3svc.Options)) (*s3svc.PutObjectOutput, error)
}

// Archiver writes evidence records as JSON objects.
type Archiver struct {
	client s3APIClient
	bucket string
	newID  func() string
}

// NewArchiver returns an Archiver writing to bucket.
func NewArchiver(client s3APIClient, bucket string) *Archiver {
	return &Archiver{
		client: client,
		bucket: bucket,
		newID:  func() string { return uuid.New().String() },
	}
}

// Key returns the object key for rec:
// isolations/<instance-id>/<isolation-time>-<id>.json.
func Key(rec models.EvidenceRecord, id string) string {
	ts := rec.Record.IsolationTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("%s/%s/%s-%s.json", keyPrefix, rec.InstanceID, ts.UTC().Format(keyTimeLayout), id)
}

// Archive implements engine.EvidenceArchiver. Objects are encrypted with
// SSE-S3 and never overwritten, since each key carries a fresh UUID.
func (a *Archiver) Archive(ctx context.Context, rec models.EvidenceRecord) (string, error) {
	if a.bucket == "" {
		return "", errors.New("evidence bucket not configured")
	}
	if rec.InstanceID == "" {
		return "", errors.New("evidence record has no instance id")
	}

	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	key := Key(rec, a.newID())
	_, err = a.client.PutObject(ctx, &s3svc.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"finding-id":   rec.Record.FindingID,
			"finding-type": rec.Record.FindingType,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return key, nil
}
