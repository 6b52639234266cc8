package goble

import (
	"fmt"
	"strings"

	"github.com/srg/blelink/internal/device"
)

// NormalizeError maps go-ble error strings to the structured errors of the device package.
// Backend specific messages are handled here; the common ones are delegated.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "can't init hci"), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case strings.Contains(msg, "disconnected") && !strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", device.ErrNotConnected, err)
	default:
		return device.NormalizeError(err)
	}
}
