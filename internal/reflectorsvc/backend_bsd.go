//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package reflectorsvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/reflector/internal/platform"
	"github.com/dantte-lp/reflector/internal/platform/bpf"
)

// newBackend picks and initializes a platform.Backend for queue on the BSD
// family (including Darwin). Only the BSD packet-filter device backend is
// available here; KindXDP and KindRing are Linux-only and are rejected.
func newBackend(ctx context.Context, kind BackendKind, cfg *platform.Config, queue int, _ *slog.Logger) (platform.Backend, BackendKind, error) {
	switch kind {
	case KindAuto, KindBPF:
		b := &bpf.Backend{}
		if err := b.Init(ctx, cfg, queue); err != nil {
			return nil, 0, fmt.Errorf("bpf backend init: %w", err)
		}
		return b, KindBPF, nil

	default:
		return nil, 0, fmt.Errorf("reflectorsvc: backend %s is not available on this platform", kind)
	}
}
