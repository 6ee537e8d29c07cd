package netdiscover

import (
	"fmt"
	"net"
)

// Info is the identity of one network interface the reflector supervisor
// needs to pick a backend and size its worker pool.
type Info struct {
	MAC           net.HardwareAddr
	Index         int
	RXQueues      int
	LinkSpeedMbps int
}

// InterfaceInfo resolves name to its MAC address, ifindex, RX queue count,
// and link speed. The RX queue count comes from an ethtool-style ioctl on
// Linux (queryChannels, in netdiscover_linux.go) and falls back to a single
// queue elsewhere; link speed is not queried and is always 0 (unknown).
func InterfaceInfo(name string) (Info, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Info{}, fmt.Errorf("netdiscover: lookup %q: %w", name, err)
	}

	rxQueues, linkSpeed, err := queryChannels(name)
	if err != nil {
		rxQueues, linkSpeed = 1, 0
	}
	if rxQueues < 1 {
		rxQueues = 1
	}

	return Info{
		MAC:           iface.HardwareAddr,
		Index:         iface.Index,
		RXQueues:      rxQueues,
		LinkSpeedMbps: linkSpeed,
	}, nil
}
