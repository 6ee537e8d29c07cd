//go:build linux

package reflectorsvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/reflector/internal/platform"
	"github.com/dantte-lp/reflector/internal/platform/ring"
	"github.com/dantte-lp/reflector/internal/platform/xdp"
)

// newBackend picks and initializes a platform.Backend for queue on Linux.
// KindAuto tries kernel-bypass AF_XDP first and falls back to the mmap'd
// PACKET_MMAP ring on init failure (spec §4.7); an explicit KindXDP or
// KindRing request never falls back. KindBPF is BSD/Darwin-only and is
// rejected here.
func newBackend(ctx context.Context, kind BackendKind, cfg *platform.Config, queue int, logger *slog.Logger) (platform.Backend, BackendKind, error) {
	switch kind {
	case KindRing:
		b := &ring.Backend{}
		if err := b.Init(ctx, cfg, queue); err != nil {
			return nil, 0, fmt.Errorf("ring backend init: %w", err)
		}
		return b, KindRing, nil

	case KindXDP:
		b := &xdp.Backend{}
		if err := b.Init(ctx, cfg, queue); err != nil {
			return nil, 0, fmt.Errorf("xdp backend init: %w", err)
		}
		return b, KindXDP, nil

	case KindBPF:
		return nil, 0, fmt.Errorf("reflectorsvc: bpf backend is not available on linux")

	default: // KindAuto
		xb := &xdp.Backend{}
		if err := xb.Init(ctx, cfg, queue); err == nil {
			return xb, KindXDP, nil
		} else {
			logger.Warn("xdp init failed, falling back to ring backend",
				slog.Int("queue", queue),
				slog.String("error", err.Error()),
			)
		}

		rb := &ring.Backend{}
		if err := rb.Init(ctx, cfg, queue); err != nil {
			return nil, 0, fmt.Errorf("ring backend init (after xdp fallback): %w", err)
		}
		return rb, KindRing, nil
	}
}
