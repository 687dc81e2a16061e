//go:build !linux || (!arm && !arm64)

package buttons

import (
	"fmt"
	"io"
	"time"
)

// Stub implementation for non-Linux and/or non-ARM platforms.
func openButton(pin int, debounce time.Duration, onPress func()) (io.Closer, error) {
	return nil, fmt.Errorf("gpio unsupported on this platform")
}

var openButtonFn = openButton
