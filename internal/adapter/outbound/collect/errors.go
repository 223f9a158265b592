package collect

import (
	"errors"
	"fmt"
)

// ErrTaskPending indicates an async host-rule task has not produced a
// result yet and should be polled again.
var ErrTaskPending = errors.New("host rule task still pending")

// RemoteError describes a non-2xx response from the collection API.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("collection api returned %d: %s", e.Status, e.Body)
}

// IsNotFound reports whether err is a 404 from the collection API.
// Close calls treat it as "already closed" rather than a failure.
func IsNotFound(err error) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Status == 404
}
