package main

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
	"github.com/srg/blelink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeAdvertisement struct {
	ble.Advertisement
	name string
	addr string
	rssi int
}

func (a *fakeAdvertisement) LocalName() string { return a.name }
func (a *fakeAdvertisement) Addr() ble.Addr    { return ble.NewAddr(a.addr) }
func (a *fakeAdvertisement) RSSI() int         { return a.rssi }

// scanningDevice advertises a fixed set of peripherals until the scan ends.
type scanningDevice struct {
	ble.Device
	ads []ble.Advertisement
}

func (d *scanningDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	for _, ad := range d.ads {
		h(ad)
	}
	<-ctx.Done()
	return ctx.Err()
}

// ScanTestSuite provides testify/suite for proper test isolation
type ScanTestSuite struct {
	suite.Suite
	originalDeviceFactory func() (ble.Device, error)
}

func (s *ScanTestSuite) SetupTest() {
	s.originalDeviceFactory = goble.DeviceFactory
	goble.DeviceFactory = func() (ble.Device, error) {
		return &scanningDevice{ads: []ble.Advertisement{
			&fakeAdvertisement{name: "MySensorForTests", addr: "00:00:00:00:00:01", rssi: -40},
			&fakeAdvertisement{name: "Unknown", addr: "00:00:00:00:00:02", rssi: -70},
			&fakeAdvertisement{name: "", addr: "00:00:00:00:00:03", rssi: -80},
			&fakeAdvertisement{name: "Thermometer", addr: "00:00:00:00:00:04", rssi: -55},
		}}, nil
	}
	scanDuration = 0
	scanFormat = "table"
	scanAll = false
	configPath = ""
}

func (s *ScanTestSuite) TearDownTest() {
	goble.DeviceFactory = s.originalDeviceFactory
}

func (s *ScanTestSuite) executeScan(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(append([]string{"scan"}, args...))
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

// GOAL: Verify the scan command lists named devices in first-seen order as JSON
//
// TEST SCENARIO: Four advertisers, two with placeholder names → JSON with two entries
func (s *ScanTestSuite) TestScanJSONHidesUnnamedDevices() {
	out, err := s.executeScan("--duration", "30ms", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T(), testutils.WithStrictKeys()).Assert(out, `[
		{"name": "MySensorForTests", "address": "00:00:00:00:00:01", "rssi": -40},
		{"name": "Thermometer", "address": "00:00:00:00:00:04", "rssi": -55}
	]`)
}

// GOAL: Verify --all keeps devices without a usable name
//
// TEST SCENARIO: Four advertisers → table lists all four
func (s *ScanTestSuite) TestScanTableAll() {
	out, err := s.executeScan("--duration", "30ms", "--all")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `#  NAME              ADDRESS            RSSI
0  MySensorForTests  00:00:00:00:00:01  -40 dBm
1  Unknown           00:00:00:00:00:02  -70 dBm
2  -                 00:00:00:00:00:03  -80 dBm
3  Thermometer       00:00:00:00:00:04  -55 dBm
`)
}

func (s *ScanTestSuite) TestScanRejectsUnknownFormat() {
	_, err := s.executeScan("--format", "xml")
	s.Require().Error(err)
	s.Assert().Contains(err.Error(), "invalid format 'xml'")
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}

type fakeDiscoverer struct {
	candidates []device.Candidate
	err        error
}

func (f fakeDiscoverer) Discover(context.Context) ([]device.Candidate, error) {
	return f.candidates, f.err
}

func TestScanOnce(t *testing.T) {
	found := []device.Candidate{
		{Name: "A", Address: "1"},
		{Name: "Unknown", Address: "2"},
	}

	t.Run("filters placeholder names", func(t *testing.T) {
		got, err := scanOnce(context.Background(), fakeDiscoverer{candidates: found}, false)
		require.NoError(t, err)
		assert.Equal(t, found[:1], got)
	})

	t.Run("cancelled scan is not an error", func(t *testing.T) {
		_, err := scanOnce(context.Background(), fakeDiscoverer{err: context.Canceled}, true)
		assert.NoError(t, err)
	})

	t.Run("discovery failure", func(t *testing.T) {
		_, err := scanOnce(context.Background(), fakeDiscoverer{err: device.ErrBluetoothOff}, true)
		assert.True(t, errors.Is(err, device.ErrBluetoothOff))
	})
}

func TestDisplayCandidatesTable_Empty(t *testing.T) {
	out := new(bytes.Buffer)

	require.NoError(t, displayCandidatesTable(out, nil))

	assert.Equal(t, "No devices discovered\n", out.String())
}

func TestCountdown(t *testing.T) {
	out := &syncWriter{}
	p := newCountdown(out, "Scanning for BLE devices", time.Second)

	p.Start()
	time.Sleep(3 * progressUpdateInterval / 2)
	p.Stop()
	p.Stop()

	text := out.String()
	assert.Contains(t, text, "Scanning for BLE devices (Scanning...)")
	assert.Contains(t, text, "Scanning 1s")
	assert.True(t, bytes.HasSuffix([]byte(text), []byte(clearLineSequence)))
}

func TestRemainingSeconds(t *testing.T) {
	assert.Equal(t, 5, remainingSeconds(5*time.Second, 0))
	assert.Equal(t, 4, remainingSeconds(5*time.Second, 1300*time.Millisecond))
	assert.Equal(t, 0, remainingSeconds(5*time.Second, 6*time.Second))
}
