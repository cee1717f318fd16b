package recognition

import (
	"testing"
	"time"
)

func TestCooldownShouldMark(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		record bool
		id     int64
		at     time.Duration
		want   bool
	}{
		{"empty state", false, 1, 0, true},
		{"same identity within window", true, 1, 2 * time.Second, false},
		{"same identity at window edge", true, 1, 5 * time.Second, false},
		{"same identity after window", true, 1, 5*time.Second + time.Millisecond, true},
		{"different identity within window", true, 2, time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCooldown(5 * time.Second)
			if tt.record {
				c.Record(1, t0)
			}
			if got := c.ShouldMark(tt.id, t0.Add(tt.at)); got != tt.want {
				t.Errorf("ShouldMark(%d, +%v) = %v, want %v", tt.id, tt.at, got, tt.want)
			}
		})
	}
}

func TestCooldownObserveUnknown(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewCooldown(5 * time.Second)
	c.Record(7, t0)

	c.ObserveUnknown(t0.Add(3 * time.Second))
	if id, _, ok := c.Last(); !ok || id != 7 {
		t.Fatalf("expected state kept within window, got %d %v", id, ok)
	}

	c.ObserveUnknown(t0.Add(6 * time.Second))
	if _, _, ok := c.Last(); ok {
		t.Error("expected state cleared after window")
	}
}

func TestCooldownReset(t *testing.T) {
	t0 := time.Now()
	c := NewCooldown(time.Minute)
	c.Record(3, t0)
	if c.ShouldMark(3, t0.Add(time.Second)) {
		t.Fatal("expected suppression before reset")
	}
	c.Reset()
	if !c.ShouldMark(3, t0.Add(time.Second)) {
		t.Error("expected mark allowed after reset")
	}
}
