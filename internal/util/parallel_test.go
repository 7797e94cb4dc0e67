package util

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func TestParallelForRunsEveryIndex(t *testing.T) {
	const n = 100
	var count int64
	ParallelFor(n, func(i int) {
		atomic.AddInt64(&count, 1)
	})
	if count != n {
		t.Fatalf("count=%d want=%d", count, n)
	}
}

func TestParallelForSurvivesPanic(t *testing.T) {
	var count int64
	ParallelFor(20, func(i int) {
		if i == 3 {
			panic("boom")
		}
		atomic.AddInt64(&count, 1)
	})
	if count != 19 {
		t.Fatalf("count=%d want=19", count)
	}
}

func TestParallelMapKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	got := ParallelMap(items, func(v int) string {
		return strconv.Itoa(v * 2)
	})
	for i, s := range got {
		if s != strconv.Itoa(i*2) {
			t.Fatalf("got[%d]=%q", i, s)
		}
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	want := errors.New("still down")
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err=%v", err)
	}
}

func TestSleepWithContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SleepWithContext(ctx, time.Second) {
		t.Fatal("expected cancellation")
	}
}
