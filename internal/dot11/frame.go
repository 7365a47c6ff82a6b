// Package dot11 parses and builds the radiotap + 802.11 frames carried by the
// bridge, the tunnel and the diagnostic harness.
package dot11

import (
	"bytes"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// SubtypeAction is the management subtype repurposed by the diagnostic protocol.
const SubtypeAction uint8 = 13

// fcsLen is the trailing frame check sequence length.
const fcsLen = 4

// DecodeError reports bytes that do not parse into a well-formed frame.
type DecodeError struct {
	Len    int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %s", e.Len, e.Reason)
}

// Frame is an immutable, parsed view over one captured or built frame.
type Frame struct {
	Raw     []byte
	Dst     net.HardwareAddr // addr1
	Src     net.HardwareAddr // addr2
	BSSID   net.HardwareAddr // addr3, the network identifier
	Type    layers.Dot11Type // main type
	Subtype uint8
	FromDS  bool
	ToDS    bool
	Payload []byte
}

// IsAction reports whether the frame carries the diagnostic action subtype.
func (f Frame) IsAction() bool {
	return f.Type == layers.Dot11TypeMgmt && f.Subtype == SubtypeAction
}

// String summarizes the frame for logs.
func (f Frame) String() string {
	return fmt.Sprintf("type=%d subtype=%d src=%s dst=%s bssid=%s fromds=%t len=%d",
		f.Type, f.Subtype, f.Src, f.Dst, f.BSSID, f.FromDS, len(f.Raw))
}

// Parse decodes radiotap-prefixed 802.11 bytes. The returned Frame keeps a
// reference to data; callers must not mutate it afterwards.
func Parse(data []byte) (Frame, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.Default)

	rtLayer := packet.Layer(layers.LayerTypeRadioTap)
	if rtLayer == nil {
		return Frame{}, decodeFailure(data, packet, "missing radiotap header")
	}
	rt := rtLayer.(*layers.RadioTap)
	if int(rt.Length) > len(data) {
		return Frame{}, &DecodeError{Len: len(data), Reason: "radiotap length exceeds frame"}
	}

	d11Layer := packet.Layer(layers.LayerTypeDot11)
	if d11Layer == nil {
		return Frame{}, decodeFailure(data, packet, "missing 802.11 header")
	}
	d11 := d11Layer.(*layers.Dot11)

	body := data[rt.Length:]
	if rt.Flags.FCS() {
		if len(body) < fcsLen {
			return Frame{}, &DecodeError{Len: len(data), Reason: "frame shorter than FCS"}
		}
		body = body[:len(body)-fcsLen]
	}
	hdrLen := len(d11.Contents)
	if hdrLen > len(body) {
		return Frame{}, &DecodeError{Len: len(data), Reason: "802.11 header exceeds frame"}
	}

	return Frame{
		Raw:     data,
		Dst:     d11.Address1,
		Src:     d11.Address2,
		BSSID:   d11.Address3,
		Type:    d11.Type.MainType(),
		Subtype: uint8(d11.Type) >> 2,
		FromDS:  d11.Flags.FromDS(),
		ToDS:    d11.Flags.ToDS(),
		Payload: body[hdrLen:],
	}, nil
}

func decodeFailure(data []byte, packet gopacket.Packet, reason string) error {
	if errLayer := packet.ErrorLayer(); errLayer != nil && errLayer.Error() != nil {
		reason = fmt.Sprintf("%s: %v", reason, errLayer.Error())
	}
	return &DecodeError{Len: len(data), Reason: reason}
}

// SameAddr compares two hardware addresses byte for byte. Empty addresses never match.
func SameAddr(a, b net.HardwareAddr) bool {
	return len(a) == 6 && bytes.Equal(a, b)
}

// ParseMAC parses a colon-separated 6-byte hardware address.
func ParseMAC(input string) (net.HardwareAddr, error) {
	addr, err := net.ParseMAC(input)
	if err != nil || len(addr) != 6 {
		return nil, fmt.Errorf("invalid mac address '%s'", input)
	}
	return addr, nil
}

// MustParseMAC is ParseMAC for compile-time constants.
func MustParseMAC(input string) net.HardwareAddr {
	addr, err := ParseMAC(input)
	if err != nil {
		panic(err)
	}
	return addr
}
