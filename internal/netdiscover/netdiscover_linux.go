//go:build linux

package netdiscover

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ethtoolChannels mirrors the kernel's struct ethtool_channels.
type ethtoolChannels struct {
	Cmd            uint32
	MaxRX          uint32
	MaxTX          uint32
	MaxOther       uint32
	MaxCombined    uint32
	RXCount        uint32
	TXCount        uint32
	OtherCount     uint32
	CombinedCount  uint32
}

// ethtoolIfreq mirrors struct ifreq as ethtool expects it: a 16-byte
// interface name followed by a pointer to the command-specific struct.
type ethtoolIfreq struct {
	Name [unix.IFNAMSIZ]byte
	Data uintptr
	_    [16]byte
}

const ethtoolGChannels = 0x3c // ETHTOOL_GCHANNELS

// queryChannels returns the interface's RX queue count via SIOCETHTOOL +
// ETHTOOL_GCHANNELS. Combined queues (common on multi-queue NICs without
// separate RX/TX rings) count as RX queues for worker-sizing purposes.
// Link speed querying (ETHTOOL_GLINKSETTINGS) is not implemented; callers
// get 0 and treat it as unknown.
func queryChannels(name string) (rxQueues, linkSpeedMbps int, err error) {
	if len(name) >= unix.IFNAMSIZ {
		return 0, 0, fmt.Errorf("netdiscover: interface name %q too long", name)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("netdiscover: socket: %w", err)
	}
	defer unix.Close(fd)

	ch := ethtoolChannels{Cmd: ethtoolGChannels}

	var req ethtoolIfreq
	copy(req.Name[:], name)
	req.Data = uintptr(unsafe.Pointer(&ch))

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.SIOCETHTOOL), uintptr(unsafe.Pointer(&req))); errno != 0 {
		return 0, 0, fmt.Errorf("netdiscover: SIOCETHTOOL/GCHANNELS on %q: %w", name, errno)
	}

	rx := int(ch.RXCount)
	if ch.CombinedCount > 0 {
		rx += int(ch.CombinedCount)
	}
	if rx == 0 {
		rx = 1
	}

	return rx, 0, nil
}
