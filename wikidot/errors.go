package wikidot

import (
	"errors"
	"fmt"
)

// ThreadNotExistsError indicates the server replied no_thread: the thread
// was deleted upstream (or never existed).
type ThreadNotExistsError struct {
	WikiID   string
	ThreadID int64
}

func (e *ThreadNotExistsError) Error() string {
	return fmt.Sprintf("thread t-%d does not exist on %s", e.ThreadID, e.WikiID)
}

// IsThreadNotExists reports whether err carries a ThreadNotExistsError.
func IsThreadNotExists(err error) bool {
	var tne *ThreadNotExistsError
	return errors.As(err, &tne)
}

// RestrictedInboxError indicates a private message was rejected because the
// recipient's preferences do not allow it.
type RestrictedInboxError struct {
	UserID int64
}

func (e *RestrictedInboxError) Error() string {
	return fmt.Sprintf("user %d does not accept private messages", e.UserID)
}

// IsRestrictedInbox reports whether err carries a RestrictedInboxError.
func IsRestrictedInbox(err error) bool {
	var rie *RestrictedInboxError
	return errors.As(err, &rie)
}

// OngoingConnectionError indicates that the retry budget for an upstream
// call was exhausted.
type OngoingConnectionError struct {
	Err error
}

func (e *OngoingConnectionError) Error() string {
	return fmt.Sprintf("upstream connection kept failing: %v", e.Err)
}

func (e *OngoingConnectionError) Unwrap() error { return e.Err }

// IsOngoingConnectionError reports whether err carries an
// OngoingConnectionError.
func IsOngoingConnectionError(err error) bool {
	var oce *OngoingConnectionError
	return errors.As(err, &oce)
}

// ModuleError is a 200 response whose payload status is not ok. Fatal to
// the enclosing operation.
type ModuleError struct {
	Status  string
	Message string
}

func (e *ModuleError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("module call failed: %s (%s)", e.Status, e.Message)
	}
	return fmt.Sprintf("module call failed: %s", e.Status)
}
