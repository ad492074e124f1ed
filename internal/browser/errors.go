package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// InvalidatedError marks a failure whose cause is the browser session itself
// being gone (process crash, closed target, dead protocol connection), as
// opposed to an ordinary operation failure. Callers that see it must treat
// the session as unusable and let the session manager replace it.
//
// Classification happens in exactly one place: the driver wrapper. Nothing
// above this package inspects error strings.
type InvalidatedError struct {
	Op  string
	Err error
}

func (e *InvalidatedError) Error() string {
	return fmt.Sprintf("browser session invalidated during %s: %v", e.Op, e.Err)
}

func (e *InvalidatedError) Unwrap() error {
	return e.Err
}

// IsInvalidated reports whether err is (or wraps) a session invalidation.
func IsInvalidated(err error) bool {
	var ie *InvalidatedError
	return errors.As(err, &ie)
}

// invalidationSignatures are the driver error fragments known to mean the
// session is gone rather than the operation having failed.
var invalidationSignatures = []string{
	"target closed",
	"target page, context or browser has been closed",
	"browser has been closed",
	"browser closed",
	"session closed",
	"protocol error",
	"execution context was destroyed",
	"most likely the page has been closed",
	"websocket: close",
	"connection refused",
	"pipe closed",
}

// classify wraps a raw driver error, promoting session-ending failures to
// InvalidatedError. Timeouts on navigation are treated as session-ending: a
// page that cannot finish loading within the bound is indistinguishable from
// a hung renderer.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range invalidationSignatures {
		if strings.Contains(msg, sig) {
			return &InvalidatedError{Op: op, Err: err}
		}
	}
	if op == "navigate" && (errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout") && strings.Contains(msg, "exceeded")) {
		return &InvalidatedError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
