//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package bpf

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	xbpf "golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// openDevice probes /dev/bpf0, /dev/bpf1, ... and returns the first one
// the kernel will hand out; every interface-bound handle needs its own
// device node on BSD.
func openDevice() (*os.File, error) {
	for i := 0; i < 256; i++ {
		path := fmt.Sprintf("/dev/bpf%d", i)
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) && !os.IsPermission(err) {
			continue
		}
	}
	return nil, fmt.Errorf("no free /dev/bpf* device found")
}

func setBufLen(fd, size int) error {
	return unix.IoctlSetInt(fd, unix.BIOCSBLEN, size)
}

// ifreqName is the fixed-layout struct ifreq the BIOCSETIF ioctl expects:
// a 16-byte interface name followed by a sockaddr-sized union that this
// backend never populates.
type ifreqName struct {
	Name [unix.IFNAMSIZ]byte
	_    [16]byte
}

func bindIf(fd int, name string) error {
	if len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("interface name %q too long", name)
	}
	var req ifreqName
	copy(req.Name[:], name)
	return ioctlPtr(fd, unix.BIOCSETIF, unsafe.Pointer(&req))
}

func setImmediate(fd int, v int) error {
	return unix.IoctlSetInt(fd, unix.BIOCIMMEDIATE, v)
}

func setSeeSent(fd int, v int) error {
	return unix.IoctlSetInt(fd, unix.BIOCSSEESENT, v)
}

func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return ioctlPtr(fd, unix.BIOCSRTIMEOUT, unsafe.Pointer(&tv))
}

// setProgram installs an assembled classic-BPF program via BIOCSETF. The
// program must outlive the ioctl call, so it is pinned in insns before the
// call and kept alive by the caller's stack frame.
func setProgram(fd int, prog []xbpf.RawInstruction) error {
	insns := make([]unix.BpfInsn, len(prog))
	for i, ins := range prog {
		insns[i] = unix.BpfInsn{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	bp := unix.BpfProgram{
		Len:   uint32(len(insns)),
		Insns: (*unix.BpfInsn)(unsafe.Pointer(&insns[0])),
	}
	return ioctlPtr(fd, unix.BIOCSETF, unsafe.Pointer(&bp))
}

func ioctlPtr(fd int, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func registerReadEvent(kq, fd int) error {
	ev := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_ENABLE,
	}}
	_, err := unix.Kevent(kq, ev, nil, nil)
	return err
}

// waitReadable blocks on kq until the registered fd becomes readable or
// timeout elapses, returning false on timeout.
func waitReadable(kq int, timeout time.Duration) (bool, error) {
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	out := make([]unix.Kevent_t, 1)
	n, err := unix.Kevent(kq, nil, out, &ts)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0, nil
}
