package goble

import (
	"fmt"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
)

// findCharacteristic looks a characteristic up by UUID across all services of the profile.
func findCharacteristic(profile *ble.Profile, uuid string) (*ble.Characteristic, error) {
	normalized, err := device.ValidateUUID(uuid)
	if err != nil {
		return nil, err
	}

	if profile != nil {
		for _, svc := range profile.Services {
			for _, c := range svc.Characteristics {
				if device.NormalizeUUID(c.UUID.String()) == normalized[0] {
					return c, nil
				}
			}
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
}

// snapshot returns the live client and profile, or ErrNotConnected
func (t *Transport) snapshot() (ble.Client, *ble.Profile, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.isConnectedInternal() {
		return nil, nil, device.ErrNotConnected
	}
	return t.client, t.profile, nil
}

// Subscribe enables notifications (or indications when that is all the
// characteristic supports) and routes every payload to handler.
func (t *Transport) Subscribe(characteristic string, handler device.NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("notification handler is nil")
	}

	client, profile, err := t.snapshot()
	if err != nil {
		return err
	}

	char, err := findCharacteristic(profile, characteristic)
	if err != nil {
		return err
	}

	canNotify := char.Property&ble.CharNotify != 0
	canIndicate := char.Property&ble.CharIndicate != 0
	if !canNotify && !canIndicate {
		return fmt.Errorf("characteristic %s does not support notifications: %w", characteristic, device.ErrUnsupported)
	}
	indicate := !canNotify

	err = NormalizeError(client.Subscribe(char, indicate, func(data []byte) {
		handler(data)
	}))
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"charUUID": characteristic,
			"error":    err,
		}).Error("Failed to subscribe to characteristic notifications")
		return fmt.Errorf("failed to subscribe to %s: %w", characteristic, err)
	}

	t.mu.RLock()
	t.subs.Set(device.NormalizeUUID(characteristic), &subscription{char: char, indicate: indicate})
	t.mu.RUnlock()

	t.logger.WithFields(logrus.Fields{
		"charUUID": characteristic,
		"indicate": indicate,
	}).Info("Successfully subscribed to characteristic notifications")
	return nil
}

// Unsubscribe disables notifications previously enabled with Subscribe
func (t *Transport) Unsubscribe(characteristic string) error {
	client, _, err := t.snapshot()
	if err != nil {
		return err
	}

	key := device.NormalizeUUID(characteristic)
	t.mu.RLock()
	sub, ok := t.subs.Get(key)
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("characteristic %s is not subscribed", characteristic)
	}

	if err := NormalizeError(client.Unsubscribe(sub.char, sub.indicate)); err != nil {
		t.logger.WithFields(logrus.Fields{
			"charUUID": characteristic,
			"error":    err,
		}).Error("Failed to unsubscribe from characteristic notifications")
		return fmt.Errorf("failed to unsubscribe from %s: %w", characteristic, err)
	}

	t.mu.RLock()
	t.subs.Del(key)
	t.mu.RUnlock()

	t.logger.WithField("charUUID", characteristic).Debug("Unsubscribed from characteristic notifications")
	return nil
}

// Write sends data to the characteristic in DefaultBLEWriteChunkSize chunks
func (t *Transport) Write(characteristic string, data []byte) error {
	client, profile, err := t.snapshot()
	if err != nil {
		return err
	}

	char, err := findCharacteristic(profile, characteristic)
	if err != nil {
		return err
	}
	if char.Property&(ble.CharWrite|ble.CharWriteNR) == 0 {
		return fmt.Errorf("characteristic %s is not writable: %w", characteristic, device.ErrUnsupported)
	}
	noRsp := char.Property&ble.CharWrite == 0

	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	for len(data) > 0 {
		n := len(data)
		if n > DefaultBLEWriteChunkSize {
			n = DefaultBLEWriteChunkSize
		}
		if err := client.WriteCharacteristic(char, data[:n], noRsp); err != nil {
			return fmt.Errorf("failed to write to characteristic %s: %w", characteristic, NormalizeError(err))
		}
		t.logger.WithFields(logrus.Fields{
			"charUUID": characteristic,
			"bytes":    n,
		}).Debug("Wrote chunk to characteristic")

		data = data[n:]
		if len(data) > 0 {
			time.Sleep(DefaultBLEWriteDelay)
		}
	}
	return nil
}
