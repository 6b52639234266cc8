package main

import (
	"errors"
	"fmt"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/session"
)

// FormatUserError turns well-known errors into a message a user can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("BLE is not supported here: %v", err)
	case errors.Is(err, session.ErrAttemptsExhausted):
		return fmt.Sprintf("gave up connecting: %v", err)
	case errors.Is(err, device.ErrDiscovery):
		return fmt.Sprintf("device discovery failed: %v", err)
	default:
		return err.Error()
	}
}
