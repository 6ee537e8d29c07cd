//go:build linux

package xdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/reflector/internal/platform"
)

// ErrSocketFailed wraps any AF_XDP setup failure that should trigger the
// supervisor's fallback to the mmap ring backend (spec §4.7).
var ErrSocketFailed = errors.New("xdp: socket setup failed")

const (
	descSize = 16 // struct xdp_desc: addr(8) + len(4) + options(4)
)

// Backend implements platform.Backend over AF_XDP for a single RX/TX queue
// pair. The UMEM region and its FILL/COMPLETION rings are shared across all
// queues on the interface; only the first Backend to Init (queue 0)
// allocates them, gated by a package-level sync.Once per interface.
type Backend struct {
	cfg   *platform.Config
	queue int

	fd int

	umem     []byte
	fillRing ring
	compRing ring
	rxRing   ring
	txRing   ring

	frameSize uint32
	freeList  []uint64 // frame addresses currently off both rings, owned by this worker
}

// shared holds the state that must be set up exactly once per interface:
// the UMEM registration and the FILL/COMPLETION ring pair, referenced by
// every per-queue Backend. ctrlFD is the socket that owns the UMEM
// registration (queue 0's fd); every other queue binds with
// SharedUmemFD set to it (spec §4.5.1).
type shared struct {
	once     sync.Once
	initErr  error
	umem     []byte
	fillRing ring
	compRing ring
	ctrlFD   int
	refCount atomic.Int32
}

var sharedByInterface sync.Map // map[string]*shared

type ring struct {
	mmap       []byte
	producer   *uint32
	consumer   *uint32
	flags      *uint32
	descOffset uint32
	mask       uint32
}

// xdpRingOffsetKernel mirrors the kernel's struct xdp_ring_offset
// (linux/if_xdp.h): the byte offsets, within an mmap'd ring, of the
// producer index, consumer index, and descriptor array. golang.org/x/sys
// does not expose this layout directly, so it is hand-declared here, the
// same way bpf.ifreqName hand-declares BIOCSETIF's fixed layout.
type xdpRingOffsetKernel struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
}

// xdpMmapOffsetsKernel mirrors struct xdp_mmap_offsets, the value
// XDP_MMAP_OFFSETS returns: one xdpRingOffsetKernel per ring.
type xdpMmapOffsetsKernel struct {
	RX xdpRingOffsetKernel
	TX xdpRingOffsetKernel
	FR xdpRingOffsetKernel
	CR xdpRingOffsetKernel
}

// Init registers (or, for queue>0, attaches to) the UMEM, opens this
// queue's RX/TX ring pair, and binds the socket to (ifindex, queue). On
// any failure it returns an error wrapping ErrSocketFailed so the
// supervisor can fall back per spec §4.7.
func (b *Backend) Init(_ context.Context, cfg *platform.Config, queue int) error {
	b.cfg = cfg
	b.queue = queue
	//nolint:gosec // G115: frame sizes are small positive configuration values.
	b.frameSize = uint32(cfg.FrameSize)

	fd, err := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if err != nil {
		return fmt.Errorf("socket(AF_XDP): %w: %w", err, ErrSocketFailed)
	}
	b.fd = fd

	sh, err := sharedUMEM(cfg, fd)
	if err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("shared UMEM setup: %w: %w", err, ErrSocketFailed)
	}
	sh.refCount.Add(1)
	b.umem = sh.umem
	b.fillRing = sh.fillRing
	b.compRing = sh.compRing

	if fd == sh.ctrlFD {
		b.postInitialFill(cfg.FrameCount / 2)
	}

	if err := b.setupRxTxRings(cfg.BatchSize); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("rx/tx rings for queue %d: %w: %w", queue, err, ErrSocketFailed)
	}

	if err := b.bind(cfg, sh.ctrlFD); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("bind queue %d: %w: %w", queue, err, ErrSocketFailed)
	}

	if cfg.BusyPoll {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BUSY_POLL, 20)
	}

	return nil
}

// sharedUMEM returns the once-initialized shared UMEM state for
// cfg.IfName, registering the UMEM region and its FILL/COMPLETION rings
// against fd the first time any queue on that interface calls Init. Later
// queues on the same interface reuse the returned state and bind with
// SharedUmemFD pointing at sh.ctrlFD instead of repeating registration.
func sharedUMEM(cfg *platform.Config, fd int) (*shared, error) {
	v, _ := sharedByInterface.LoadOrStore(cfg.IfName, &shared{})
	sh := v.(*shared)

	sh.once.Do(func() {
		sh.ctrlFD = fd

		size := cfg.FrameSize * cfg.FrameCount
		mem, err := allocUMEM(size, cfg.HugePages)
		if err != nil {
			sh.initErr = fmt.Errorf("allocate UMEM region: %w", err)
			return
		}
		sh.umem = mem

		reg := unix.XDPUmemReg{
			Addr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
			Len:  uint64(len(mem)),
			//nolint:gosec // G115: frame size/headroom are small configuration values.
			Size:     uint32(cfg.FrameSize),
			Headroom: 0,
		}
		if err := setsockoptPtr(fd, unix.SOL_XDP, unix.XDP_UMEM_REG, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
			sh.initErr = fmt.Errorf("setsockopt XDP_UMEM_REG: %w", err)
			return
		}

		fillEntries := nextPow2(cfg.FrameCount)
		if err := unix.SetsockoptInt(fd, unix.SOL_XDP, unix.XDP_UMEM_FILL_RING, fillEntries); err != nil {
			sh.initErr = fmt.Errorf("setsockopt XDP_UMEM_FILL_RING: %w", err)
			return
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_XDP, unix.XDP_UMEM_COMPLETION_RING, fillEntries); err != nil {
			sh.initErr = fmt.Errorf("setsockopt XDP_UMEM_COMPLETION_RING: %w", err)
			return
		}

		offsets, err := getMmapOffsets(fd)
		if err != nil {
			sh.initErr = fmt.Errorf("getsockopt XDP_MMAP_OFFSETS: %w", err)
			return
		}

		fillSize := offsets.FR.Desc + uint64(fillEntries)*8
		fr, err := unix.Mmap(fd, unix.XDP_UMEM_PGOFF_FILL_RING, int(fillSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			sh.initErr = fmt.Errorf("mmap fill ring: %w", err)
			return
		}
		sh.fillRing = ringFromMmap(fr, offsets.FR, fillEntries)

		compSize := offsets.CR.Desc + uint64(fillEntries)*8
		cr, err := unix.Mmap(fd, unix.XDP_UMEM_PGOFF_COMPLETION_RING, int(compSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
		if err != nil {
			sh.initErr = fmt.Errorf("mmap completion ring: %w", err)
			return
		}
		sh.compRing = ringFromMmap(cr, offsets.CR, fillEntries)
	})

	if sh.initErr != nil {
		return nil, sh.initErr
	}
	return sh, nil
}

// ringFromMmap builds a ring descriptor pointing into an already-mmap'd
// region at the producer/consumer/descriptor offsets the kernel reported.
func ringFromMmap(mem []byte, off xdpRingOffsetKernel, entries int) ring {
	return ring{
		mmap:       mem,
		producer:   (*uint32)(unsafe.Pointer(&mem[off.Producer])),
		consumer:   (*uint32)(unsafe.Pointer(&mem[off.Consumer])),
		descOffset: uint32(off.Desc),
		//nolint:gosec // G115: entries is a small power-of-two ring size.
		mask: uint32(entries - 1),
	}
}

// getMmapOffsets issues getsockopt(SOL_XDP, XDP_MMAP_OFFSETS), which
// golang.org/x/sys/unix does not wrap directly, via the same raw-syscall
// pattern bpf.ioctlPtr uses for ioctls it has no typed helper for.
func getMmapOffsets(fd int) (xdpMmapOffsetsKernel, error) {
	var off xdpMmapOffsetsKernel
	size := uint32(unsafe.Sizeof(off))
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd), uintptr(unix.SOL_XDP), uintptr(unix.XDP_MMAP_OFFSETS),
		uintptr(unsafe.Pointer(&off)), uintptr(unsafe.Pointer(&size)), 0)
	if errno != 0 {
		return xdpMmapOffsetsKernel{}, errno
	}
	return off, nil
}

// setsockoptPtr issues setsockopt with an arbitrary struct argument,
// for option values (like XDP_UMEM_REG) unix.SetsockoptInt/String can't
// carry.
func setsockoptPtr(fd, level, opt int, arg unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(opt),
		uintptr(arg), size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// bind attaches the socket to (ifindex, queue), sharing the UMEM owned by
// ctrlFD when this isn't the controlling queue (spec §4.5.1).
func (b *Backend) bind(cfg *platform.Config, ctrlFD int) error {
	sa := &unix.SockaddrXDP{
		//nolint:gosec // G115: Ifindex/QueueID are small positive kernel identifiers.
		Ifindex: uint32(cfg.IfIndex),
		//nolint:gosec // G115: queue is a small positive configuration value.
		QueueID: uint32(b.queue),
	}
	if b.fd != ctrlFD {
		//nolint:gosec // G115: ctrlFD is a small positive file descriptor.
		sa.Flags = unix.XDP_SHARED_UMEM
		//nolint:gosec // G115: ctrlFD is a small positive file descriptor.
		sa.SharedUmemFD = uint32(ctrlFD)
	}
	return unix.Bind(b.fd, sa)
}

// allocUMEM reserves a size-byte region for the UMEM, trying huge pages
// first when requested and falling back to ordinary anonymous pages on
// failure, per spec §4.5.1.
func allocUMEM(size int, hugePages bool) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if hugePages {
		mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags|unix.MAP_HUGETLB)
		if err == nil {
			return mem, nil
		}
	}
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags)
}

// postInitialFill posts count frame addresses to the FILL ring so the
// kernel has RX buffers to write into before the first recv. Only the
// queue-0 worker does this, per spec §4.5.1.
func (b *Backend) postInitialFill(count int) {
	for i := 0; i < count; i++ {
		//nolint:gosec // G115: loop index bounded by FrameCount, a small configuration value.
		addr := uint64(i) * uint64(b.frameSize)
		b.postFill(addr)
	}
}

func (b *Backend) postFill(addr uint64) {
	ring := b.fillRing
	if ring.producer == nil {
		return
	}
	idx := atomic.LoadUint32(ring.producer) & ring.mask
	slot := (*uint64)(unsafe.Pointer(&ring.mmap[ring.descOffset+idx*8]))
	*slot = addr
	atomic.AddUint32(ring.producer, 1)
}

// setupRxTxRings issues the XDP_RX_RING/XDP_TX_RING setsockopts against
// b.fd, reads back the kernel's ring layout via XDP_MMAP_OFFSETS, and
// mmaps both rings at their kernel-assigned page offsets (spec §4.5.1).
// The ring sizing is batchSize rounded up to the next power of two times
// a small multiplier so a full RecvBatch never blocks on ring capacity.
func (b *Backend) setupRxTxRings(batchSize int) error {
	entries := nextPow2(batchSize * 4)

	if err := unix.SetsockoptInt(b.fd, unix.SOL_XDP, unix.XDP_RX_RING, entries); err != nil {
		return fmt.Errorf("setsockopt XDP_RX_RING: %w", err)
	}
	if err := unix.SetsockoptInt(b.fd, unix.SOL_XDP, unix.XDP_TX_RING, entries); err != nil {
		return fmt.Errorf("setsockopt XDP_TX_RING: %w", err)
	}

	offsets, err := getMmapOffsets(b.fd)
	if err != nil {
		return fmt.Errorf("getsockopt XDP_MMAP_OFFSETS: %w", err)
	}

	rx, err := mmapRing(b.fd, unix.XDP_PGOFF_RX_RING, offsets.RX, entries)
	if err != nil {
		return fmt.Errorf("mmap rx ring: %w", err)
	}
	tx, err := mmapRing(b.fd, unix.XDP_PGOFF_TX_RING, offsets.TX, entries)
	if err != nil {
		return fmt.Errorf("mmap tx ring: %w", err)
	}
	b.rxRing = rx
	b.txRing = tx
	return nil
}

func mmapRing(fd int, pgoff int64, off xdpRingOffsetKernel, entries int) (ring, error) {
	size := int(off.Desc) + entries*descSize
	mem, err := unix.Mmap(fd, pgoff, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return ring{}, err
	}
	return ringFromMmap(mem, off, entries), nil
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Cleanup unmaps this queue's RX/TX rings and the socket, and drops this
// Backend's reference on the shared UMEM; the UMEM itself is unmapped when
// the last queue on the interface releases it.
func (b *Backend) Cleanup() error {
	var errs []error
	if b.rxRing.mmap != nil {
		if err := unix.Munmap(b.rxRing.mmap); err != nil {
			errs = append(errs, fmt.Errorf("unmap rx ring: %w", err))
		}
	}
	if b.txRing.mmap != nil {
		if err := unix.Munmap(b.txRing.mmap); err != nil {
			errs = append(errs, fmt.Errorf("unmap tx ring: %w", err))
		}
	}
	if b.fd != 0 {
		if err := unix.Close(b.fd); err != nil {
			errs = append(errs, fmt.Errorf("close xdp socket: %w", err))
		}
	}
	if sh, ok := sharedByInterface.Load(b.cfg.IfName); ok {
		s := sh.(*shared)
		if s.refCount.Add(-1) == 0 {
			if err := unix.Munmap(s.fillRing.mmap); err != nil {
				errs = append(errs, fmt.Errorf("unmap fill ring: %w", err))
			}
			if err := unix.Munmap(s.compRing.mmap); err != nil {
				errs = append(errs, fmt.Errorf("unmap completion ring: %w", err))
			}
			if err := unix.Munmap(s.umem); err != nil {
				errs = append(errs, fmt.Errorf("unmap umem: %w", err))
			}
			sharedByInterface.Delete(b.cfg.IfName)
		}
	}
	return errors.Join(errs...)
}

// RecvBatch peeks up to len(out) descriptors from the RX ring, resolves
// each slot's frame address into a byte slice within the UMEM, and
// advances the consumer cursor (spec §4.5.1).
func (b *Backend) RecvBatch(out []platform.FrameDesc) (int, error) {
	n := 0
	for n < len(out) {
		desc, ok := b.rxPeek()
		if !ok {
			break
		}
		out[n] = platform.FrameDesc{
			Bytes: b.umem[desc.addr : desc.addr+uint64(desc.length)],
			Token: desc.addr,
		}
		n++
		atomic.AddUint32(b.rxRing.consumer, 1)
	}
	return n, nil
}

type xdpDesc struct {
	addr   uint64
	length uint32
	opts   uint32
}

func (b *Backend) rxPeek() (xdpDesc, bool) {
	prod := atomic.LoadUint32(b.rxRing.producer)
	cons := atomic.LoadUint32(b.rxRing.consumer)
	if cons == prod {
		return xdpDesc{}, false
	}
	idx := cons & b.rxRing.mask
	base := b.rxRing.descOffset + idx*descSize
	addr := *(*uint64)(unsafe.Pointer(&b.rxRing.mmap[base]))
	length := *(*uint32)(unsafe.Pointer(&b.rxRing.mmap[base+8]))
	return xdpDesc{addr: addr, length: length}, true
}

// SendBatch first eagerly drains the COMPLETION ring to recycle any
// already-transmitted frames into FILL, then reserves TX slots for descs
// and writes (addr, len) pairs, waking the kernel once if the batch was
// non-empty (spec §4.5.1).
func (b *Backend) SendBatch(descs []platform.FrameDesc) (int, error) {
	b.drainCompletion()

	sent := 0
	for _, d := range descs {
		if !b.txReserve(d) {
			break
		}
		sent++
	}
	if sent > 0 {
		atomic.AddUint32(b.txRing.producer, uint32(sent))
		if err := unix.Sendto(b.fd, nil, unix.MSG_DONTWAIT, nil); err != nil &&
			!errors.Is(err, unix.EAGAIN) && !errors.Is(err, unix.ENOBUFS) {
			return sent, fmt.Errorf("xdp sendto wakeup: %w", err)
		}
	}
	return sent, nil
}

func (b *Backend) txReserve(d platform.FrameDesc) bool {
	prod := atomic.LoadUint32(b.txRing.producer)
	cons := atomic.LoadUint32(b.txRing.consumer)
	if prod-cons >= b.txRing.mask+1 {
		return false
	}
	idx := prod & b.txRing.mask
	base := b.txRing.descOffset + idx*descSize
	*(*uint64)(unsafe.Pointer(&b.txRing.mmap[base])) = d.Token
	//nolint:gosec // G115: frame lengths fit uint32, bounded by Config.FrameSize.
	*(*uint32)(unsafe.Pointer(&b.txRing.mmap[base+8])) = uint32(len(d.Bytes))
	return true
}

func (b *Backend) drainCompletion() {
	ring := b.compRing
	if ring.producer == nil {
		return
	}
	prod := atomic.LoadUint32(ring.producer)
	cons := atomic.LoadUint32(ring.consumer)
	n := prod - cons
	for i := uint32(0); i < n; i++ {
		idx := (cons + i) & ring.mask
		addr := *(*uint64)(unsafe.Pointer(&ring.mmap[ring.descOffset+idx*8]))
		b.postFill(addr)
	}
	if n > 0 {
		atomic.AddUint32(ring.consumer, n)
	}
}

// ReleaseRejected recycles each descriptor to FILL immediately: this is the
// count==1-per-call path described in spec §9 — rejected RX buffers were
// never handed to SendBatch, so they must go straight back to FILL rather
// than wait on COMPLETION.
func (b *Backend) ReleaseRejected(descs []platform.FrameDesc) {
	for _, d := range descs {
		b.postFill(d.Token)
	}
}

// ReleaseSent is a no-op recycle hint: buffers handed to SendBatch are
// already in flight and are recycled from COMPLETION by the next
// SendBatch's drain, not here (spec §9's count>1 path).
func (b *Backend) ReleaseSent(_ []platform.FrameDesc) {}
