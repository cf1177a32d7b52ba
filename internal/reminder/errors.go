package reminder

import "errors"

var (
	// ErrPermissionDenied means the process may not alert the user. Not retried.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrInvalidPayload means the trigger carried no usable task id. Not retried.
	ErrInvalidPayload = errors.New("invalid reminder payload")
)

// IsPermanent reports whether a queue backend must give up on the job
// instead of retrying it.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrInvalidPayload)
}
