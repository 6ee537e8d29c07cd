//go:build linux

package ring

import "testing"

func TestHtons(t *testing.T) {
	t.Parallel()

	if got := htons(0x0800); got != 0x0008 {
		t.Errorf("htons(0x0800) = 0x%04x, want 0x0008", got)
	}
}

func TestMacSplitRoundTrip(t *testing.T) {
	t.Parallel()

	mac := [6]byte{0x00, 0x01, 0x55, 0x17, 0x1e, 0x1b}
	high := macHigh32(mac)
	low := macLow16(mac)

	if got := byte(high >> 24); got != mac[0] {
		t.Errorf("byte 0 = 0x%02x, want 0x%02x", got, mac[0])
	}
	if got := byte(low); got != mac[5] {
		t.Errorf("byte 5 = 0x%02x, want 0x%02x", got, mac[5])
	}
}

func TestPacketReqVariants(t *testing.T) {
	t.Parallel()

	v2 := packetReq(V2)
	if v2.retireTOV3 != 0 {
		t.Errorf("V2 request set retireTOV3 = %d, want 0", v2.retireTOV3)
	}

	v3 := packetReq(V3)
	if v3.retireTOV3 == 0 {
		t.Errorf("V3 request did not set retireTOV3")
	}
}
