package groutine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_NamesTheGoroutine(t *testing.T) {
	names := make(chan string, 1)

	Go(nil, "ble-link-monitor", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "ble-link-monitor", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine MUST run")
	}
}

func TestGetName_Unnamed(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is handled explicitly
}

func TestGroup_WaitsForAllTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGroup(ctx)

	var finished atomic.Int32
	for _, name := range []string{"supervisor", "console", "reporter"} {
		g.Go(name, func(ctx context.Context) {
			<-ctx.Done()
			finished.Add(1)
		})
	}

	cancel()
	g.Wait()

	assert.Equal(t, int32(3), finished.Load())
}
