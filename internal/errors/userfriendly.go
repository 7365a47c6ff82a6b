package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitTransport  = 3
	ExitWatchdog   = 124
	ExitValidation = 255
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
	Code    int
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// ExitCode returns the process exit code for this error.
func (e UserFriendlyError) ExitCode() int {
	if e.Code == 0 {
		return ExitFailure
	}
	return e.Code
}

// ExitCodeOf returns the exit code carried by err, ExitOK for nil and
// ExitFailure for errors that carry none.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitOK
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	return ExitFailure
}

// WrapCaptureError wraps failures to open or use a monitor-mode interface.
func WrapCaptureError(err error, iface string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to open radio interface %s", iface),
		Reason:  extractCaptureReason(err),
		Hint:    "The interface must exist, be in monitor mode, and capture requires root or CAP_NET_RAW",
		Try:     fmt.Sprintf("iw dev %s set type monitor && ip link set %s up", iface, iface),
		Err:     err,
		Code:    ExitTransport,
	}
}

// WrapTransportError wraps a fatal frame tunnel failure.
func WrapTransportError(err error, endpoint string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Frame tunnel failed on %s", endpoint),
		Reason:  extractTransportReason(err),
		Hint:    "The peer process may have exited, or the stream carries something other than length-prefixed frames",
		Err:     err,
		Code:    ExitTransport,
	}
}

// WrapValidationError wraps a diagnostic response that failed its check.
func WrapValidationError(err error, step string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Diagnostic step %s failed", step),
		Reason:  err.Error(),
		Hint:    "The device answered, but its response did not match the expected layout or value",
		Err:     err,
		Code:    ExitValidation,
	}
}

// WrapWatchdogError wraps a watchdog abort.
func WrapWatchdogError(err error, step string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Watchdog expired while waiting on step %s", step),
		Reason:  "No matching diagnostic response arrived before the deadline",
		Hint:    "Check that the device is reachable and the bridge forwards action frames in both directions",
		Try:     "linkshim harness --watchdog 30s --log-level debug",
		Err:     err,
		Code:    ExitWatchdog,
	}
}

// WrapRemoteError wraps failures launching or talking to a remote shim.
func WrapRemoteError(err error, target string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to run shim on %s", target),
		Reason:  extractNetworkReason(err),
		Hint:    "The remote host must be reachable over SSH and have linkshim installed (or use --deploy)",
		Try:     fmt.Sprintf("linkshim connect --remote %s --deploy ./linkshim", target),
		Err:     err,
		Code:    ExitTransport,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Identity and protocol addresses must be 6-byte MACs; durations use Go syntax (10s, 500ms)",
		Err:     err,
	}
}

func extractCaptureReason(err error) string {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "permission") || strings.Contains(errStr, "operation not permitted") {
		return "Insufficient privileges for raw capture/injection"
	}
	if strings.Contains(errStr, "no such device") || strings.Contains(errStr, "doesn't exist") {
		return "Interface not found"
	}
	if strings.Contains(errStr, "link type") {
		return "Interface is not delivering 802.11 radiotap frames (not in monitor mode?)"
	}

	return "Capture setup failed"
}

func extractTransportReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "exceeds size limit") {
		return "Malformed length prefix or oversized frame"
	}
	if strings.Contains(errStr, "stream closed") {
		return "Stream closed by peer"
	}

	return "Stream I/O failed"
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	// Common network error patterns
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timeout - host may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - SSH may not be listening on this port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or host unreachable"
	}
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no authentication methods") {
		return "SSH authentication failed"
	}
	if strings.Contains(errStr, "connection reset") {
		return "Connection reset - host closed the connection unexpectedly"
	}

	return "Remote execution failed"
}
