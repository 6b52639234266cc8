package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Run one discovery scan and list the devices found, in the order they were
first seen. Devices without a usable name are hidden unless --all is given;
the session never selects them.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 5s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "Include unnamed devices")
}

// discoverer is the part of the transport a scan needs.
type discoverer interface {
	Discover(ctx context.Context) ([]device.Candidate, error)
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	if scanDuration > 0 {
		cfg.ScanTimeout = scanDuration
	}
	duration := cfg.ScanTimeout

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Listen for Ctrl+C to cancel
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(cmd.ErrOrStderr(), "\nCtrl+C pressed, cancelling scan...")
			cancel()
		case <-ctx.Done():
		}
	}()

	transport := goble.NewTransport(transportOptions(cfg), logger)

	progress := newCountdown(cmd.ErrOrStderr(), "Scanning for BLE devices", duration)
	progress.Start()
	candidates, err := scanOnce(ctx, transport, scanAll)
	progress.Stop()
	if err != nil {
		return err
	}

	if scanFormat == "json" {
		return displayCandidatesJSON(cmd.OutOrStdout(), candidates)
	}
	return displayCandidatesTable(cmd.OutOrStdout(), candidates)
}

// scanOnce runs one discovery. A user cancel keeps what was found so far.
func scanOnce(ctx context.Context, d discoverer, all bool) ([]device.Candidate, error) {
	candidates, err := d.Discover(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	if !all {
		candidates = device.FilterNamed(candidates)
	}
	return candidates, nil
}

func displayCandidatesTable(out io.Writer, candidates []device.Candidate) error {
	if len(candidates) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tNAME\tADDRESS\tRSSI")
	for i, c := range candidates {
		name := c.Name
		if name == "" {
			name = "-"
		}
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d dBm\n", i, name, c.Address, c.RSSI)
	}
	return w.Flush()
}

type candidateJSON struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

func displayCandidatesJSON(out io.Writer, candidates []device.Candidate) error {
	list := make([]candidateJSON, 0, len(candidates))
	for _, c := range candidates {
		list = append(list, candidateJSON{Name: c.Name, Address: c.Address, RSSI: c.RSSI})
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
