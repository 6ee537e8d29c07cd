//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package reflectorsvc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dantte-lp/reflector/internal/platform"
)

// newBackend has no platform.Backend implementation to offer outside the
// Linux and BSD-family builds covered by backend_linux.go / backend_bsd.go.
func newBackend(_ context.Context, _ BackendKind, _ *platform.Config, _ int, _ *slog.Logger) (platform.Backend, BackendKind, error) {
	return nil, 0, fmt.Errorf("reflectorsvc: no backend available on this platform")
}
