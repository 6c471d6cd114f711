package awsisolation

import (
	"errors"

	"github.com/aws/smithy-go"
)

// EC2 API error codes this package reacts to.
const (
	codeGroupNotFound      = "InvalidGroup.NotFound"
	codeGroupDuplicate     = "InvalidGroup.Duplicate"
	codeInstanceNotFound   = "InvalidInstanceID.NotFound"
	codeInstanceMalformed  = "InvalidInstanceID.Malformed"
	codePermissionNotFound = "InvalidPermission.NotFound"
)

var (
	// ErrGroupNotFound is returned by QuarantineManager.Lookup when the
	// quarantine group does not exist. Any other lookup error is a real
	// failure and is returned as-is.
	ErrGroupNotFound = errors.New("quarantine security group not found")

	// ErrInstanceNotFound is returned by Capturer.Capture when EC2 has no
	// record of the instance.
	ErrInstanceNotFound = errors.New("instance not found")
)

// apiErrorCode returns the AWS error code carried by err, or "" when err is
// not an API error.
func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
