package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWallClockSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	start := time.Now()
	err := WallClock().Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep() returned after %v, want prompt return on cancel", elapsed)
	}
}

func TestWallClockSleepAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, d := range []time.Duration{0, time.Hour} {
		if err := WallClock().Sleep(ctx, d); !errors.Is(err, context.Canceled) {
			t.Errorf("Sleep(%v) err = %v, want context.Canceled", d, err)
		}
	}
}

func TestWallClockSleep(t *testing.T) {
	clock := WallClock()

	start := clock.Now()
	if err := clock.Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(0) err = %v", err)
	}
	if err := clock.Sleep(context.Background(), -time.Second); err != nil {
		t.Errorf("Sleep(-1s) err = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("zero sleeps took %v", elapsed)
	}

	start = clock.Now()
	if err := clock.Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if elapsed := clock.Now().Sub(start); elapsed < 20*time.Millisecond {
		t.Errorf("Sleep(20ms) returned after %v", elapsed)
	}
}
