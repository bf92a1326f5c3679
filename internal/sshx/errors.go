package sshx

import "fmt"

// ConnectionError is returned when dialing a host failed even after the
// whole retry budget was spent. It is terminal for the check.
type ConnectionError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("ssh connection to %s failed after %d attempts: %v", e.Host, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// CommandError is returned when a remote command ran but did not succeed.
// It is non-fatal for the overall check: the affected service's finding
// is recorded empty and the check continues.
type CommandError struct {
	Command     string
	Output      string
	ErrorOutput string
	Err         error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("ssh command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// KeyProvisionError aborts a check before any diagnostic command runs.
type KeyProvisionError struct {
	Host string
	Err  error
}

func (e *KeyProvisionError) Error() string {
	return fmt.Sprintf("provisioning ssh key for %s: %v", e.Host, e.Err)
}

func (e *KeyProvisionError) Unwrap() error {
	return e.Err
}
