// Package awsguardduty reads detectors and findings from GuardDuty and
// converts them into models.Finding.
package awsguardduty

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	guardduty "github.com/aws/aws-sdk-go-v2/service/guardduty"
	guarddutytype "github.com/aws/aws-sdk-go-v2/service/guardduty/types"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// GuardDuty API limits.
const (
	pageSize          = 50
	DefaultMaxResults = 500
)

var (
	// ErrNoDetector is returned when the region has no GuardDuty detector.
	ErrNoDetector = errors.New("no GuardDuty detector in region")

	// ErrFindingNotFound is returned by GetFinding for an unknown ID.
	ErrFindingNotFound = errors.New("finding not found")
)

// guardDutyAPIClient is the narrow GuardDuty interface used by Client.
type guardDutyAPIClient interface {
	ListDetectors(ctx context.Context, params *guardduty.ListDetectorsInput, optFns ...func(*guardduty.Options)) (*guardduty.ListDetectorsOutput, error)
	GetDetector(ctx context.Context, params *guardduty.GetDetectorInput, optFns ...func(*guardduty.Options)) (*guardduty.GetDetectorOutput, error)
	ListFindings(ctx context.Context, params *guardduty.ListFindingsInput, optFns ...func(*guardduty.Options)) (*guardduty.ListFindingsOutput, error)
	GetFindings(ctx context.Context, params *guardduty.GetFindingsInput, optFns ...func(*guardduty.Options)) (*guardduty.GetFindingsOutput, error)
}

// Client wraps the GuardDuty API for one region.
type Client struct {
	api    guardDutyAPIClient
	region string
}

// NewClient returns a Client. region is reported in DetectorStatus only.
func NewClient(api guardDutyAPIClient, region string) *Client {
	return &Client{api: api, region: region}
}

// DetectorStatus reports whether GuardDuty is enabled in a region.
type DetectorStatus struct {
	Region     string `json:"region"`
	DetectorID string `json:"detector_id,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// DefaultDetector returns the first detector in the region.
func (c *Client) DefaultDetector(ctx context.Context) (string, error) {
	out, err := c.api.ListDetectors(ctx, &guardduty.ListDetectorsInput{})
	if err != nil {
		return "", fmt.Errorf("list detectors: %w", err)
	}
	if len(out.DetectorIds) == 0 {
		return "", ErrNoDetector
	}
	return out.DetectorIds[0], nil
}

// Status checks whether the region has an enabled detector. A region with no
// detector is reported as disabled, not as an error.
func (c *Client) Status(ctx context.Context) (DetectorStatus, error) {
	st := DetectorStatus{Region: c.region}
	id, err := c.DefaultDetector(ctx)
	if errors.Is(err, ErrNoDetector) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	st.DetectorID = id

	det, err := c.api.GetDetector(ctx, &guardduty.GetDetectorInput{DetectorId: aws.String(id)})
	if err != nil {
		return st, fmt.Errorf("get detector %s: %w", id, err)
	}
	st.Enabled = det.Status == guarddutytype.DetectorStatusEnabled
	return st, nil
}

// ListFindings returns up to maxResults findings of any severity, most
// recently updated first. maxResults <= 0 means DefaultMaxResults.
func (c *Client) ListFindings(ctx context.Context, detectorID string, maxResults int) ([]models.Finding, error) {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	var ids []string
	var token *string
	for {
		n := min(pageSize, maxResults-len(ids))
		out, err := c.api.ListFindings(ctx, &guardduty.ListFindingsInput{
			DetectorId: aws.String(detectorID),
			MaxResults: aws.Int32(int32(n)),
			NextToken:  token,
			FindingCriteria: &guarddutytype.FindingCriteria{
				Criterion: map[string]guarddutytype.Condition{
					"severity": {GreaterThanOrEqual: aws.Int64(1)},
				},
			},
			SortCriteria: &guarddutytype.SortCriteria{
				AttributeName: aws.String("updatedAt"),
				OrderBy:       guarddutytype.OrderByDesc,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("list findings: %w", err)
		}
		ids = append(ids, out.FindingIds...)
		token = out.NextToken
		if aws.ToString(token) == "" || len(ids) >= maxResults {
			break
		}
	}
	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}

	findings, err := c.getFindings(ctx, detectorID, ids)
	if err != nil {
		return nil, err
	}
	sortByUpdatedDesc(findings)
	return findings, nil
}

// sortByUpdatedDesc orders findings newest first. GetFindings does not
// return findings in request order.
func sortByUpdatedDesc(findings []models.Finding) {
	slices.SortStableFunc(findings, func(a, b models.Finding) int {
		ta, errA := time.Parse(time.RFC3339Nano, a.UpdatedAt)
		tb, errB := time.Parse(time.RFC3339Nano, b.UpdatedAt)
		if errA != nil || errB != nil {
			return strings.Compare(b.UpdatedAt, a.UpdatedAt)
		}
		return tb.Compare(ta)
	})
}

// GetFinding returns a single finding by ID.
func (c *Client) GetFinding(ctx context.Context, detectorID, findingID string) (models.Finding, error) {
	found, err := c.getFindings(ctx, detectorID, []string{findingID})
	if err != nil {
		return models.Finding{}, err
	}
	if len(found) == 0 {
		return models.Finding{}, fmt.Errorf("%s: %w", findingID, ErrFindingNotFound)
	}
	return found[0], nil
}

// getFindings fetches ids in batches of pageSize. Result order is whatever
// GetFindings returns.
func (c *Client) getFindings(ctx context.Context, detectorID string, ids []string) ([]models.Finding, error) {
	findings := make([]models.Finding, 0, len(ids))
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		out, err := c.api.GetFindings(ctx, &guardduty.GetFindingsInput{
			DetectorId: aws.String(detectorID),
			FindingIds: ids[start:end],
		})
		if err != nil {
			return nil, fmt.Errorf("get findings: %w", err)
		}
		for _, f := range out.Findings {
			findings = append(findings, toFinding(f))
		}
	}
	return findings, nil
}
