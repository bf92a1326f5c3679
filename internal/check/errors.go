package check

import "fmt"

// InvalidIPError rejects malformed input before any remote work.
type InvalidIPError struct {
	Value string
}

func (e *InvalidIPError) Error() string {
	return fmt.Sprintf("not a valid IP address: %q", e.Value)
}

// AccessDeniedError means the acting user holds no grant on the host.
type AccessDeniedError struct {
	UserID string
	HostID int64
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("user %q has no access to host %d", e.UserID, e.HostID)
}
