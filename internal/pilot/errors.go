package pilot

import (
	"fmt"
	"time"
)

// ThrottleError carries the Retry-After hint the note service sends back on
// 429 so the retry layer can wait exactly as long as asked.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }
