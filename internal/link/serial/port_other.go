//go:build !linux

package serial

import (
	"fmt"
	"io"
	"runtime"
)

func openTTY(device string, _ int) (io.ReadWriteCloser, error) {
	return nil, fmt.Errorf("%w: %s on %s", ErrUnsupportedPlatform, device, runtime.GOOS)
}
