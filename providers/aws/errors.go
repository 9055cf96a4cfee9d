package aws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/aws/smithy-go"
)

// PrerequisiteError reports something the stack depends on but does not manage,
// such as the execution role or the queue. It is fatal and never retried.
type PrerequisiteError struct {
	Resource string
	Err      error
}

func (e *PrerequisiteError) Error() string {
	return fmt.Sprintf("missing prerequisite %s: %v", e.Resource, e.Err)
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// IsPrerequisite reports whether err is, or wraps, a PrerequisiteError.
func IsPrerequisite(err error) bool {
	var pe *PrerequisiteError
	return errors.As(err, &pe)
}

var notFoundCodes = map[string]bool{
	"ResourceNotFoundException":               true,
	"NotFoundException":                       true,
	"NotFound":                                true,
	"NoSuchEntity":                            true,
	"NoSuchBucket":                            true,
	"AWS.SimpleQueueService.NonExistentQueue": true,
	"QueueDoesNotExist":                       true,
	"ResourceNotFound":                        true,
}

var conflictCodes = map[string]bool{
	"ResourceConflictException":      true,
	"ConflictException":              true,
	"ResourceAlreadyExistsException": true,
	"EntityAlreadyExists":            true,
}

var transientCodes = map[string]bool{
	"Throttling":                             true,
	"ThrottlingException":                    true,
	"ThrottledException":                     true,
	"TooManyRequestsException":               true,
	"RequestLimitExceeded":                   true,
	"LimitExceededException":                 true,
	"ProvisionedThroughputExceededException": true,
	"ServiceUnavailable":                     true,
	"ServiceUnavailableException":            true,
	"ServiceException":                       true,
	"InternalServerError":                    true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"RequestTimeoutException":                true,
}

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether err means the remote resource does not exist.
func IsNotFound(err error) bool {
	return err != nil && notFoundCodes[errorCode(err)]
}

// IsConflict reports whether err means the resource already exists.
func IsConflict(err error) bool {
	return err != nil && conflictCodes[errorCode(err)]
}

// IsTransient reports whether err is worth retrying: throttling, service-side
// faults and network timeouts.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if transientCodes[errorCode(err)] {
		return true
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused")
}
