package netdiscover_test

import (
	"testing"

	"github.com/dantte-lp/reflector/internal/netdiscover"
)

func TestInterfaceInfo_UnknownInterface(t *testing.T) {
	t.Parallel()

	if _, err := netdiscover.InterfaceInfo("no-such-interface-xyz"); err == nil {
		t.Fatal("InterfaceInfo on a nonexistent interface: want error, got nil")
	}
}

func TestInterfaceInfo_Loopback(t *testing.T) {
	t.Parallel()

	info, err := netdiscover.InterfaceInfo("lo")
	if err != nil {
		t.Skipf("no loopback interface named \"lo\" on this system: %v", err)
	}
	if info.RXQueues < 1 {
		t.Errorf("RXQueues = %d, want >= 1", info.RXQueues)
	}
}
