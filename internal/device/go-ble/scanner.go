package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blelink/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// candidateFromAdvertisement converts a go-ble advertisement to a discovery candidate
func candidateFromAdvertisement(adv ble.Advertisement) device.Candidate {
	return device.Candidate{
		Name:    adv.LocalName(),
		Address: adv.Addr().String(),
		RSSI:    adv.RSSI(),
	}
}

// Discover scans for ScanTimeout and returns every advertising peripheral once,
// in the order it was first seen. A later advertisement refreshes RSSI and fills
// in a name that was missing from the first one.
func (t *Transport) Discover(ctx context.Context) ([]device.Candidate, error) {
	dev, err := t.bleDevice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrDiscovery, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, t.opts.ScanTimeout)
	defer cancel()

	t.logger.WithField("duration", t.opts.ScanTimeout).Info("Starting BLE scan...")

	var mu sync.Mutex
	seen := orderedmap.New[string, device.Candidate]()

	err = dev.Scan(scanCtx, t.opts.AllowDuplicates, func(adv ble.Advertisement) {
		c := candidateFromAdvertisement(adv)

		mu.Lock()
		defer mu.Unlock()
		if prev, ok := seen.Get(c.Address); ok {
			if c.Name == "" {
				c.Name = prev.Name
			}
		} else {
			t.logger.WithFields(logrus.Fields{
				"device":  c.Name,
				"address": c.Address,
				"rssi":    c.RSSI,
			}).Debug("Discovered new device")
		}
		seen.Set(c.Address, c)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %v", device.ErrDiscovery, NormalizeError(err))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()

	candidates := make([]device.Candidate, 0, seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		candidates = append(candidates, pair.Value)
	}

	t.logger.WithField("device_count", len(candidates)).Info("BLE scan completed")
	return candidates, nil
}
