package harness

import "fmt"

// Error reports a failed harness call: the HTTP request errored, the
// server returned a non-success status, or the body did not decode. Calls
// are never retried at this layer; retry policy belongs to the caller.
type Error struct {
	Op     string
	Status int // 0 when the request never got a response
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("harness %s failed with status %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("harness %s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
