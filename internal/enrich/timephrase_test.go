package enrich

import (
	"testing"
	"time"
)

// ref is a fixed Wednesday morning.
var refNow = time.Date(2025, 3, 12, 9, 30, 0, 0, time.Local)

func TestResolveTime_DayWords(t *testing.T) {
	tests := []struct {
		phrase  string
		wantDay int // day of month
	}{
		{"今天下午三点", 12},
		{"明天上午十点", 13},
		{"后天开会", 14},
		{"大后天交报告", 15},
	}
	for _, tt := range tests {
		got, ok := ResolveTime(tt.phrase, refNow)
		if !ok {
			t.Errorf("%q: not resolved", tt.phrase)
			continue
		}
		if got.Day() != tt.wantDay {
			t.Errorf("%q: day %d, want %d", tt.phrase, got.Day(), tt.wantDay)
		}
	}
}

func TestResolveTime_MorningNoOffset(t *testing.T) {
	got, ok := ResolveTime("早上七点开会", refNow)
	if !ok {
		t.Fatal("not resolved")
	}
	want := time.Date(2025, 3, 12, 7, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveTime_AfternoonOffset(t *testing.T) {
	tests := []struct {
		phrase   string
		wantHour int
	}{
		{"下午三点交报告", 15},
		{"晚上八点半", 20},
		{"中午十二点", 12}, // already >= 12, no double shift
		{"中午一点", 13},
		{"上午十点", 10},
	}
	for _, tt := range tests {
		got, ok := ResolveTime(tt.phrase, refNow)
		if !ok {
			t.Errorf("%q: not resolved", tt.phrase)
			continue
		}
		if got.Hour() != tt.wantHour {
			t.Errorf("%q: hour %d, want %d", tt.phrase, got.Hour(), tt.wantHour)
		}
		if got.Day() != refNow.Day() {
			t.Errorf("%q: resolved off today: %v", tt.phrase, got)
		}
	}
}

func TestResolveTime_ClockFormats(t *testing.T) {
	tests := []struct {
		phrase     string
		wantHour   int
		wantMinute int
	}{
		{"明天14:30开会", 14, 30},
		{"今天9:05", 9, 5},
		{"明天八点半", 8, 30},
		{"后天七点十五分", 7, 15},
	}
	for _, tt := range tests {
		got, ok := ResolveTime(tt.phrase, refNow)
		if !ok {
			t.Errorf("%q: not resolved", tt.phrase)
			continue
		}
		if got.Hour() != tt.wantHour || got.Minute() != tt.wantMinute {
			t.Errorf("%q: got %02d:%02d, want %02d:%02d",
				tt.phrase, got.Hour(), got.Minute(), tt.wantHour, tt.wantMinute)
		}
	}
}

func TestResolveTime_BareClockAlreadyPassedMeansTomorrow(t *testing.T) {
	// ref is 09:30; a bare "7点" has passed, so it means tomorrow.
	got, ok := ResolveTime("7点", refNow)
	if !ok {
		t.Fatal("not resolved")
	}
	if got.Day() != 13 || got.Hour() != 7 {
		t.Errorf("got %v, want tomorrow 07:00", got)
	}

	// But the same clock inside a sentence stays today.
	got, _ = ResolveTime("早上七点开会", refNow)
	if got.Day() != 12 {
		t.Errorf("sentence-embedded time moved to %v", got)
	}

	// A bare time still in the future stays today.
	got, _ = ResolveTime("23:00", refNow)
	if got.Day() != 12 {
		t.Errorf("future bare time moved to %v", got)
	}
}

func TestResolveTime_NextWeek(t *testing.T) {
	// ref is Wednesday 2025-03-12; next week Monday is the 17th.
	tests := []struct {
		phrase  string
		wantDay int
	}{
		{"下周一开会", 17},
		{"下周三", 19},
		{"下周日", 23},
		{"下周天", 23},
	}
	for _, tt := range tests {
		got, ok := ResolveTime(tt.phrase, refNow)
		if !ok {
			t.Errorf("%q: not resolved", tt.phrase)
			continue
		}
		if got.Day() != tt.wantDay {
			t.Errorf("%q: day %d, want %d", tt.phrase, got.Day(), tt.wantDay)
		}
	}
}

func TestResolveTime_MonthDay(t *testing.T) {
	got, ok := ResolveTime("4月1日上午九点", refNow)
	if !ok {
		t.Fatal("not resolved")
	}
	want := time.Date(2025, 4, 1, 9, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if _, ok := ResolveTime("13月40号", refNow); ok {
		t.Error("impossible date should not resolve")
	}
}

func TestResolveTime_DayWordWithoutClock(t *testing.T) {
	got, ok := ResolveTime("明天", refNow)
	if !ok {
		t.Fatal("not resolved")
	}
	if got.Day() != 13 || got.Hour() != refNow.Hour() {
		t.Errorf("day word alone should keep reference clock time, got %v", got)
	}
}

func TestResolveTime_UnresolvedFallsBackToNextDay(t *testing.T) {
	for _, phrase := range []string{"尽快", "回头再说", ""} {
		got, ok := ResolveTime(phrase, refNow)
		if ok {
			t.Errorf("%q: unexpectedly resolved", phrase)
		}
		want := refNow.AddDate(0, 0, 1)
		if !got.Equal(want) {
			t.Errorf("%q: fallback %v, want %v", phrase, got, want)
		}
	}
}

func TestCnAtoi(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"7", 7, true},
		{"12", 12, true},
		{"七", 7, true},
		{"两", 2, true},
		{"十", 10, true},
		{"十五", 15, true},
		{"二十", 20, true},
		{"二十一", 21, true},
		{"", 0, false},
		{"点", 0, false},
		{"十十", 0, false},
	}
	for _, tt := range tests {
		got, ok := cnAtoi(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("cnAtoi(%q) = (%d,%v), want (%d,%v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
