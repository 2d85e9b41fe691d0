package enrich

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Time-phrase resolution applies a small ordered rule set against a
// reference "now" (the segment's timestamp). Unresolved phrases fall back
// to reference+1 day rather than failing; callers get resolved=false to
// tell the two apart.

var (
	clockRe     = regexp.MustCompile(`([0-9]{1,2})[:：]([0-9]{1,2})`)
	cnHourRe    = regexp.MustCompile(`([0-9一二两三四五六七八九十]{1,3})点(半|[0-9一二三四五六七八九十]{1,3}分?)?`)
	monthDayRe  = regexp.MustCompile(`([0-9一二三四五六七八九十]{1,3})月([0-9一二三四五六七八九十]{1,3})[日号]`)
	clockOnlyRe = regexp.MustCompile(`^\s*(?:[0-9]{1,2}[:：][0-9]{1,2}|[0-9一二两三四五六七八九十]{1,3}点半?)\s*$`)
)

// dayWords in match order: the longer word first so 后天 does not eat 大后天.
var dayWords = []struct {
	word   string
	offset int
}{
	{"大后天", 3},
	{"后天", 2},
	{"明天", 1},
	{"今天", 0},
	{"今晚", 0},
}

var nextWeekdays = map[string]time.Weekday{
	"一": time.Monday, "二": time.Tuesday, "三": time.Wednesday,
	"四": time.Thursday, "五": time.Friday, "六": time.Saturday,
	"日": time.Sunday, "天": time.Sunday,
}

// afternoon words push an ambiguous hour into the second half of the day.
var pmWords = []string{"中午", "下午", "晚上", "傍晚", "今晚", "夜里"}

// ResolveTime resolves a natural-language Chinese time phrase against ref.
// resolved is false when no rule matched and the reference+1 day fallback
// was used.
func ResolveTime(phrase string, ref time.Time) (t time.Time, resolved bool) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return ref.AddDate(0, 0, 1), false
	}

	day, hasDay := resolveDay(phrase, ref)
	hour, minute, hasTime := resolveClock(phrase)

	switch {
	case hasDay && hasTime:
		return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, ref.Location()), true
	case hasDay:
		// Day word alone keeps the reference's time of day.
		return time.Date(day.Year(), day.Month(), day.Day(),
			ref.Hour(), ref.Minute(), 0, 0, ref.Location()), true
	case hasTime:
		t := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, ref.Location())
		// A bare clock time that has already passed means tomorrow,
		// but only when the phrase is nothing but the time.
		if clockOnlyRe.MatchString(phrase) && t.Before(ref) {
			t = t.AddDate(0, 0, 1)
		}
		return t, true
	default:
		return ref.AddDate(0, 0, 1), false
	}
}

// resolveDay finds a relative day word, a next-week weekday, or an explicit
// month-day in the phrase.
func resolveDay(phrase string, ref time.Time) (time.Time, bool) {
	for _, dw := range dayWords {
		if strings.Contains(phrase, dw.word) {
			return ref.AddDate(0, 0, dw.offset), true
		}
	}
	if i := strings.Index(phrase, "下周"); i >= 0 {
		rest := phrase[i+len("下周"):]
		for suffix, wd := range nextWeekdays {
			if strings.HasPrefix(rest, suffix) {
				return nextWeek(ref, wd), true
			}
		}
	}
	if m := monthDayRe.FindStringSubmatch(phrase); m != nil {
		month, okM := cnAtoi(m[1])
		dayNum, okD := cnAtoi(m[2])
		if okM && okD && month >= 1 && month <= 12 && dayNum >= 1 && dayNum <= 31 {
			return time.Date(ref.Year(), time.Month(month), dayNum, 0, 0, 0, 0, ref.Location()), true
		}
	}
	return time.Time{}, false
}

// nextWeek returns the given weekday of the calendar week after ref's.
func nextWeek(ref time.Time, wd time.Weekday) time.Time {
	// Monday-based: days until next Monday, then forward to the weekday.
	daysToMonday := (8 - int(ref.Weekday())) % 7
	if daysToMonday == 0 {
		daysToMonday = 7
	}
	fromMonday := (int(wd) - int(time.Monday) + 7) % 7
	return ref.AddDate(0, 0, daysToMonday+fromMonday)
}

// resolveClock extracts an hour:minute from the phrase, applying the
// afternoon offset for 中午/下午/晚上 phrasing when the hour is ambiguous.
func resolveClock(phrase string) (hour, minute int, ok bool) {
	if m := clockRe.FindStringSubmatch(phrase); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
	} else if m := cnHourRe.FindStringSubmatch(phrase); m != nil {
		h, okH := cnAtoi(m[1])
		if !okH {
			return 0, 0, false
		}
		hour = h
		switch {
		case m[2] == "半":
			minute = 30
		case m[2] != "":
			mm, okM := cnAtoi(strings.TrimSuffix(m[2], "分"))
			if okM {
				minute = mm
			}
		}
	} else {
		return 0, 0, false
	}

	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	if hour < 12 {
		for _, w := range pmWords {
			if strings.Contains(phrase, w) {
				hour += 12
				break
			}
		}
	}
	return hour, minute, true
}

var cnDigits = map[rune]int{
	'一': 1, '二': 2, '两': 2, '三': 3, '四': 4,
	'五': 5, '六': 6, '七': 7, '八': 8, '九': 9,
}

// cnAtoi parses either ASCII digits or Chinese numerals up to 99.
func cnAtoi(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}

	runes := []rune(s)
	// Forms: X, 十, 十Y, X十, X十Y.
	tens, units := 0, 0
	seenTen := false
	for _, r := range runes {
		if r == '十' {
			if seenTen {
				return 0, false
			}
			seenTen = true
			if tens == 0 {
				tens = 1
			}
			continue
		}
		d, okD := cnDigits[r]
		if !okD {
			return 0, false
		}
		if seenTen {
			if units != 0 {
				return 0, false
			}
			units = d
		} else {
			if tens != 0 {
				return 0, false
			}
			tens = d
		}
	}
	if seenTen {
		return tens*10 + units, true
	}
	return tens, true
}
