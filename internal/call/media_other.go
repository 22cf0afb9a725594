//go:build !linux

package call

import (
	"context"
	"fmt"
	"runtime"

	"github.com/petervdpas/peercall/internal/signaling"
)

// Acquire always fails: device capture is only wired for Linux.
func (d *DeviceSource) Acquire(_ context.Context, _ signaling.CallType) (*LocalMedia, error) {
	return nil, fmt.Errorf("%w: no capture drivers on %s", ErrMediaUnavailable, runtime.GOOS)
}
