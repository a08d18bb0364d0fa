package clock

import (
	"testing"
	"time"
)

func TestStartAndEndOfDay(t *testing.T) {
	at := time.Date(2026, 3, 15, 23, 30, 0, 0, time.UTC)
	c, err := NewFixedAt("Asia/Makassar", at)
	if err != nil {
		t.Fatalf("NewFixedAt: %v", err)
	}

	start := c.StartOfDay(c.Now())
	end := c.EndOfDay(c.Now())

	if !start.Before(end) {
		t.Fatalf("expected start before end, got start=%v end=%v", start, end)
	}
	if end.Sub(start) != 23*time.Hour+59*time.Minute+59*time.Second+999*time.Millisecond {
		t.Fatalf("unexpected day span: %v", end.Sub(start))
	}
}

func TestDaysDiff(t *testing.T) {
	zone := "Asia/Makassar"
	now, _ := NewFixedAt(zone, time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))

	cases := []struct {
		name  string
		event time.Time
		want  int
	}{
		{"same day", time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC), 0},
		{"one day prior", time.Date(2026, 3, 14, 1, 0, 0, 0, time.UTC), 1},
		{"eight days prior", time.Date(2026, 3, 7, 1, 0, 0, 0, time.UTC), 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DaysDiff(now, now.Now(), tc.event)
			if got != tc.want {
				t.Errorf("DaysDiff() = %d, want %d", got, tc.want)
			}
		})
	}
}
