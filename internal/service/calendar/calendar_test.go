package calendar

import (
	"testing"
	"time"

	"FxPull/pkg/config"
)

func at(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestIsWeekendGap(t *testing.T) {
	cal := New(false, nil)

	// 2024-03-08 is a Friday, 2024-03-11 a Monday.
	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"friday close to monday open", at(2024, 3, 8, 22, 0), at(2024, 3, 11, 0, 0), true},
		{"friday late to monday midnight", at(2024, 3, 8, 23, 59), at(2024, 3, 11, 0, 30), true},
		{"friday before close", at(2024, 3, 8, 21, 0), at(2024, 3, 11, 0, 0), false},
		{"monday after open", at(2024, 3, 8, 22, 0), at(2024, 3, 11, 1, 0), false},
		{"midweek gap", at(2024, 3, 6, 10, 0), at(2024, 3, 6, 12, 0), false},
		{"thursday to monday", at(2024, 3, 7, 22, 0), at(2024, 3, 11, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cal.IsWeekendGap(tt.start, tt.end); got != tt.want {
				t.Errorf("IsWeekendGap(%v, %v) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}

func TestIsWeekendGapWithWeekendTrading(t *testing.T) {
	cal := New(true, nil)
	if cal.IsWeekendGap(at(2024, 3, 8, 22, 0), at(2024, 3, 11, 0, 0)) {
		t.Fatalf("weekend trading calendar must not report weekend gaps")
	}
}

func TestSessionsOverrideHours(t *testing.T) {
	cal := New(false, []config.MarketSession{
		{Day: 4, Time: "21:00"},
		{Day: 0, Time: "01:30"},
		{Day: 2, Time: "05:00"},
	})
	if cal.FridayCloseHour() != 21 {
		t.Errorf("friday close = %d, want 21", cal.FridayCloseHour())
	}
	if cal.MondayOpenHour() != 1 {
		t.Errorf("monday open = %d, want 1", cal.MondayOpenHour())
	}
	if !cal.IsWeekendGap(at(2024, 3, 8, 21, 0), at(2024, 3, 11, 1, 0)) {
		t.Errorf("expected configured hours to be honoured")
	}
}

func TestMalformedSessionFallsBack(t *testing.T) {
	cal := New(false, []config.MarketSession{{Day: 4, Time: "late"}})
	if cal.FridayCloseHour() != defaultFridayClose {
		t.Fatalf("friday close = %d, want default", cal.FridayCloseHour())
	}
}

func TestWeekendAdjustment(t *testing.T) {
	cal := New(false, nil)
	span := 15 * 24 * time.Hour // two full weeks
	if got := cal.WeekendAdjustment(span, time.Minute); got != 2*48*60 {
		t.Errorf("1m adjustment = %d", got)
	}
	if got := cal.WeekendAdjustment(span, time.Hour); got != 2*48 {
		t.Errorf("1h adjustment = %d", got)
	}
	if got := New(true, nil).WeekendAdjustment(span, time.Minute); got != 0 {
		t.Errorf("weekend trading adjustment = %d, want 0", got)
	}
}
