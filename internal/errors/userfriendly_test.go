package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "tunnel failed",
				Reason:  "closed",
				Hint:    "check peer",
				Try:     "restart shim",
				Err:     fmt.Errorf("write: broken pipe"),
			},
			contains: []string{"tunnel failed", "Reason: closed", "Hint: check peer", "Try: restart shim", "Details: write: broken pipe"},
		},
		{
			name: "no reason",
			err: UserFriendlyError{
				Message: "failed",
				Hint:    "hint here",
			},
			contains: []string{"failed", "Hint: hint here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	err := UserFriendlyError{Message: "msg"}
	msg := err.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}

	var nilErr UserFriendlyError
	if nilErr.Unwrap() != nil {
		t.Error("Unwrap on nil Err should return nil")
	}
}

func TestWrappersNil(t *testing.T) {
	wrappers := map[string]error{
		"capture":    WrapCaptureError(nil, "mon0"),
		"transport":  WrapTransportError(nil, "stdio"),
		"validation": WrapValidationError(nil, "position"),
		"watchdog":   WrapWatchdogError(nil, "uptime"),
		"remote":     WrapRemoteError(nil, "ssh://host"),
		"config":     WrapConfigError(nil, "cfg.yaml"),
	}
	for name, err := range wrappers {
		if err != nil {
			t.Errorf("%s wrapper returned non-nil for nil error", name)
		}
	}
}

func TestExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"validation", WrapValidationError(errors.New("marker missing"), "position"), ExitValidation},
		{"watchdog", WrapWatchdogError(errors.New("deadline"), "uptime"), ExitWatchdog},
		{"transport", WrapTransportError(errors.New("tunnel: stream closed"), "stdio"), ExitTransport},
		{"config", WrapConfigError(errors.New("bad mac"), "cfg.yaml"), ExitFailure},
		{"wrapped", fmt.Errorf("run: %w", WrapValidationError(errors.New("x"), "mem_write")), ExitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeOf(tt.err); got != tt.want {
				t.Errorf("ExitCodeOf() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWrapCaptureError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"permission", fmt.Errorf("mon0: You don't have permission to capture on that device"), "Insufficient privileges"},
		{"missing", fmt.Errorf("mon9: No such device exists"), "Interface not found"},
		{"link type", fmt.Errorf("unexpected link type Ethernet"), "not delivering 802.11"},
		{"other", fmt.Errorf("weird"), "Capture setup failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapCaptureError(tt.err, "mon0")
			var ufe UserFriendlyError
			if !errors.As(err, &ufe) {
				t.Fatal("expected UserFriendlyError")
			}
			if !strings.Contains(ufe.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want to contain %q", ufe.Reason, tt.wantReason)
			}
			if !strings.Contains(ufe.Message, "mon0") {
				t.Errorf("Message = %q, want interface name", ufe.Message)
			}
		})
	}
}

func TestWrapRemoteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantReason string
	}{
		{"timeout", fmt.Errorf("dial tcp: i/o timeout"), "Connection timeout"},
		{"refused", fmt.Errorf("dial tcp: connection refused"), "Connection refused"},
		{"auth", fmt.Errorf("ssh: unable to authenticate"), "SSH authentication failed"},
		{"reset", fmt.Errorf("read: connection reset by peer"), "Connection reset"},
		{"generic", fmt.Errorf("something else"), "Remote execution failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapRemoteError(tt.err, "ssh://pi@drone")
			var ufe UserFriendlyError
			if !errors.As(err, &ufe) {
				t.Fatal("expected UserFriendlyError")
			}
			if !strings.Contains(ufe.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want to contain %q", ufe.Reason, tt.wantReason)
			}
		})
	}
}

func TestWrapTransportError_Reason(t *testing.T) {
	err := WrapTransportError(errors.New("tunnel: frame exceeds size limit: declared 99999"), "stdio")
	if !strings.Contains(err.Error(), "Malformed length prefix") {
		t.Errorf("Error() = %q, want malformed prefix reason", err.Error())
	}
}
