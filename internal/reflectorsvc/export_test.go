package reflectorsvc

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/reflector/internal/platform"
)

// SetBackendFactory overrides how Start resolves a platform.Backend per
// queue. It exists only for tests in reflectorsvc_test to inject
// platform.Mock instead of a real OS-specific backend.
func (s *Supervisor) SetBackendFactory(f func(ctx context.Context, kind BackendKind, cfg *platform.Config, queue int, logger *slog.Logger) (platform.Backend, BackendKind, error)) {
	s.newBackend = f
}
