package dynconf

import (
	"context"
	"testing"
	"time"
)

func TestBackoff_GrowsToCap(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second)

	prevBase := time.Duration(0)
	for i := 0; i < 6; i++ {
		d := b.Next()
		// Jitter adds at most 25%.
		if d < prevBase {
			t.Fatalf("delay %v shrank below previous base %v", d, prevBase)
		}
		if max := 8*time.Second + 2*time.Second; d > max {
			t.Fatalf("delay %v exceeds cap plus jitter %v", d, max)
		}
		prevBase = d - d/5 // strip worst-case jitter before comparing
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute)
	b.Next()
	b.Next()
	b.Reset()

	d := b.Next()
	if d < time.Second || d > time.Second+250*time.Millisecond {
		t.Errorf("delay after Reset = %v, want ~1s", d)
	}
}

func TestBackoff_Defaults(t *testing.T) {
	b := newBackoff(0, 0)
	if b.base != time.Second || b.cap != time.Second {
		t.Errorf("defaults = (%v, %v), want (1s, 1s)", b.base, b.cap)
	}
}

func TestSleepContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepContext(ctx, time.Minute); err == nil {
		t.Fatal("sleepContext() with cancelled context = nil, want error")
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return promptly on cancellation")
	}
}
