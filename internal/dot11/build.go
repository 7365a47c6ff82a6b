package dot11

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// radiotapHeader is the minimal radiotap header: version 0, length 8, no fields present.
var radiotapHeader = []byte{0x00, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}

// Header holds the addressing of a frame to build.
type Header struct {
	Dst    net.HardwareAddr
	Src    net.HardwareAddr
	BSSID  net.HardwareAddr
	FromDS bool
}

// BuildAction serializes a radiotap + 802.11 management action frame carrying payload.
func BuildAction(h Header, payload []byte) ([]byte, error) {
	return Build(layers.Dot11TypeMgmtAction, h, payload)
}

// Build serializes a radiotap + 802.11 frame of the given combined type/subtype.
// No FCS is appended.
func Build(typ layers.Dot11Type, h Header, payload []byte) ([]byte, error) {
	for name, addr := range map[string]net.HardwareAddr{"dst": h.Dst, "src": h.Src, "bssid": h.BSSID} {
		if len(addr) != 6 {
			return nil, fmt.Errorf("build frame: %s address must be 6 bytes, got %d", name, len(addr))
		}
	}

	var flags layers.Dot11Flags
	if h.FromDS {
		flags |= layers.Dot11FlagsFromDS
	}
	d11 := &layers.Dot11{
		Type:     typ,
		Flags:    flags,
		Address1: h.Dst,
		Address2: h.Src,
		Address3: h.BSSID,
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, d11, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize 802.11: %w", err)
	}

	out := make([]byte, 0, len(radiotapHeader)+len(buf.Bytes()))
	out = append(out, radiotapHeader...)
	out = append(out, buf.Bytes()...)
	return out, nil
}
