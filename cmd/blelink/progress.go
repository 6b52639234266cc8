package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/blelink/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// countdown prints "<prefix> (<phase> Ns)" with the remaining time until Stop.
//
//	p := newCountdown(os.Stdout, "Scanning for BLE devices", 5*time.Second)
//	p.Start()
//	defer p.Stop()
type countdown struct {
	out      io.Writer
	prefix   string
	duration time.Duration

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func newCountdown(out io.Writer, prefix string, duration time.Duration) *countdown {
	return &countdown{out: out, prefix: prefix, duration: duration}
}

// Start begins printing in a background goroutine. It must be called once.
func (p *countdown) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	start := time.Now()

	fmt.Fprintf(p.out, "\r%s (%s...)   ", p.prefix, "Scanning")

	groutine.Go(ctx, "scan-progress", func(ctx context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprintf(p.out, "\r%s (Scanning %ds)   ", p.prefix, remainingSeconds(p.duration, time.Since(start)))
			}
		}
	})
}

// Stop ends the display and clears the line. It is safe to call repeatedly.
func (p *countdown) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.done
		fmt.Fprint(p.out, clearLineSequence)
	})
}

// remainingSeconds rounds the time left to the nearest second, never below 0.
func remainingSeconds(total, elapsed time.Duration) int {
	remaining := total - elapsed
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds() + 0.5)
}
