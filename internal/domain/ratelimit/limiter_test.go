package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestParsePeriod(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"1m":  time.Minute,
		"2h":  2 * time.Hour,
		"5":   5 * time.Second,
	}
	for in, want := range cases {
		got, err := ParsePeriod(in)
		if err != nil {
			t.Fatalf("ParsePeriod(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParsePeriod(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePeriod(""); err == nil {
		t.Error("expected error for empty period")
	}
	if _, err := ParsePeriod("not-a-duration"); err == nil {
		t.Error("expected error for garbage period")
	}
}

func TestLimiterAdmitsUpToLimit(t *testing.T) {
	l := NewWithConfig(time.Hour, time.Hour)
	defer l.Stop(context.Background())

	cfg := Config{Limit: 5, Period: time.Second}
	allowed := 0
	for i := 0; i < 7; i++ {
		if l.Allow("conn-1", "spam", cfg) {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected exactly 5 of 7 calls admitted, got %d", allowed)
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	l := NewWithConfig(time.Hour, time.Hour)
	defer l.Stop(context.Background())

	cfg := Config{Limit: 1, Period: 50 * time.Millisecond}
	if !l.Allow("conn-2", "m", cfg) {
		t.Fatal("first call should be admitted")
	}
	if l.Allow("conn-2", "m", cfg) {
		t.Fatal("second immediate call should be denied")
	}
	time.Sleep(60 * time.Millisecond)
	if !l.Allow("conn-2", "m", cfg) {
		t.Fatal("call after refill period should be admitted")
	}
}

func TestLimiterIsolatedPerConnectionAndMethod(t *testing.T) {
	l := NewWithConfig(time.Hour, time.Hour)
	defer l.Stop(context.Background())

	cfg := Config{Limit: 1, Period: time.Hour}
	if !l.Allow("a", "m1", cfg) {
		t.Fatal("a/m1 first call should be admitted")
	}
	if !l.Allow("a", "m2", cfg) {
		t.Fatal("a/m2 should have its own bucket")
	}
	if !l.Allow("b", "m1", cfg) {
		t.Fatal("b/m1 should have its own bucket")
	}
	if l.Allow("a", "m1", cfg) {
		t.Fatal("a/m1 should now be exhausted")
	}
}

func TestLimiterForget(t *testing.T) {
	l := NewWithConfig(time.Hour, time.Hour)
	defer l.Stop(context.Background())

	cfg := Config{Limit: 1, Period: time.Hour}
	l.Allow("c", "m", cfg)
	if l.Allow("c", "m", cfg) {
		t.Fatal("bucket should be exhausted")
	}
	l.Forget("c", []string{"m"})
	if !l.Allow("c", "m", cfg) {
		t.Fatal("forgotten bucket should reset to a fresh full bucket")
	}
}

func TestLimiterUnconfiguredAlwaysAllows(t *testing.T) {
	l := New()
	defer l.Stop(context.Background())
	for i := 0; i < 100; i++ {
		if !l.Allow("x", "y", Config{}) {
			t.Fatal("a zero-limit config should never rate-limit")
		}
	}
}
