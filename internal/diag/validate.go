package diag

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Response offsets count from the first byte of the frame body, the 0x17
// action category. The device echoes a fixed-size header before the data
// each check looks at; the header lengths it documents start after the
// category byte.
const (
	categoryLen = 1

	StatusOffset   = categoryLen + 126 // POSITION, UPTIME
	InfoOffset     = categoryLen + 34  // MODEL_INFO, MEM_READ
	MemValueOffset = categoryLen + 26  // MEM_WRITE, u64 LE
)

// ValidationError reports a response that failed its opcode's check.
type ValidationError struct {
	Opcode Opcode
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed: %s", e.Opcode, e.Reason)
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Expectations holds the markers responses are checked against.
type Expectations struct {
	PositionMarkers [2][]byte
	UptimeMarker    []byte
	ModelMarkers    [][]byte
}

// DefaultExpectations returns the markers the reference device produces.
func DefaultExpectations() Expectations {
	return Expectations{
		PositionMarkers: [2][]byte{[]byte("45."), []byte("30.")},
		UptimeMarker:    []byte("Uptime"),
		ModelMarkers:    [][]byte{[]byte("blyatcopter"), []byte("vladblade"), []byte("Red Star Linux")},
	}
}

// tail returns payload[offset:], or nil when the payload is shorter.
func tail(payload []byte, offset int) []byte {
	if len(payload) <= offset {
		return nil
	}
	return payload[offset:]
}

func containsAll(op Opcode, payload []byte, offset int, markers [][]byte) error {
	data := tail(payload, offset)
	for _, m := range markers {
		if !bytes.Contains(data, m) {
			return &ValidationError{
				Opcode: op,
				Reason: fmt.Sprintf("marker %q not found after offset %d (%d-byte payload)", m, offset, len(payload)),
			}
		}
	}
	return nil
}

// ValidatePosition requires both coordinate markers.
func (e Expectations) ValidatePosition(payload []byte) error {
	return containsAll(OpPosition, payload, StatusOffset, e.PositionMarkers[:])
}

// ValidateUptime requires the uptime marker.
func (e Expectations) ValidateUptime(payload []byte) error {
	return containsAll(OpUptime, payload, StatusOffset, [][]byte{e.UptimeMarker})
}

// ValidateModelInfo requires every identity marker.
func (e Expectations) ValidateModelInfo(payload []byte) error {
	return containsAll(OpModelInfo, payload, InfoOffset, e.ModelMarkers)
}

// ValidateMemRead requires the probe to be echoed.
func ValidateMemRead(payload, probe []byte) error {
	return containsAll(OpMemRead, payload, InfoOffset, [][]byte{probe})
}

// ValidateMemWrite requires the u64 at MemValueOffset to equal value.
func ValidateMemWrite(payload []byte, value uint64) error {
	if len(payload) < MemValueOffset+8 {
		return &ValidationError{
			Opcode: OpMemWrite,
			Reason: fmt.Sprintf("response too short: got %d bytes, need %d", len(payload), MemValueOffset+8),
		}
	}
	got := binary.LittleEndian.Uint64(payload[MemValueOffset : MemValueOffset+8])
	if got != value {
		return &ValidationError{
			Opcode: OpMemWrite,
			Reason: fmt.Sprintf("value mismatch: got 0x%016x, want 0x%016x", got, value),
		}
	}
	return nil
}
